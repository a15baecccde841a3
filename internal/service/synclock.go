package service

import "sync"

// userLocks hands out one mutex per user id.
//
// Two syncs for the same user (say, the background sync right after linking
// and a manual "sync now") would otherwise race on the final persist and the
// slower one would silently overwrite the newer stats. Syncs for different
// users never contend.
//
// Entries are reference counted and removed when the last holder unlocks, so
// the map only ever holds users with a sync in flight.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID's mutex is held and returns the unlock function.
func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// size reports how many users currently hold or wait for a lock.
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
