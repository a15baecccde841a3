package oauthstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	ownerID   string
	expiresAt time.Time
}

// MemoryStore keeps tokens in a mutex-guarded map. Suitable for a single
// instance; use RedisStore when several instances share callbacks.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	onSweep       func(removed int)
	logger        *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now. Tests use it to step past the TTL.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithSweepHook is called after every background sweep with the number of
// entries removed. The server uses it to feed a metrics counter.
func WithSweepHook(fn func(removed int)) MemoryOption {
	return func(s *MemoryStore) { s.onSweep = fn }
}

// NewMemoryStore creates an empty store. Call Start to run the sweep loop.
func NewMemoryStore(logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]entry),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue stores a new token for ownerID.
func (s *MemoryStore) Issue(_ context.Context, ownerID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.entries[token] = entry{ownerID: ownerID, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return token, nil
}

// Validate looks the token up and checks its expiry on the spot.
func (s *MemoryStore) Validate(_ context.Context, token string) (string, bool, error) {
	s.mu.RLock()
	e, found := s.entries[token]
	s.mu.RUnlock()

	if !found || !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.ownerID, true, nil
}

// Consume deletes the token. Deleting an unknown token is not an error.
func (s *MemoryStore) Consume(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return nil
}

// Take deletes the token under the write lock and reports whether it was
// live. An expired entry is removed too.
func (s *MemoryStore) Take(_ context.Context, token string) (string, bool, error) {
	now := s.now()

	s.mu.Lock()
	e, found := s.entries[token]
	delete(s.entries, token)
	s.mu.Unlock()

	if !found || !now.Before(e.expiresAt) {
		return "", false, nil
	}
	return e.ownerID, true, nil
}

// Sweep drops every expired entry.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live-or-unswept entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start launches the background sweep. Safe to call more than once.
func (s *MemoryStore) Start() {
	s.startOnce.Do(func() {
		s.running.Store(true)
		go s.sweepLoop()
	})
}

// Stop ends the sweep loop and waits for it to exit.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.running.Load() {
			<-s.done
		}
	})
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, _ := s.Sweep(context.Background())
			if s.onSweep != nil {
				s.onSweep(removed)
			}
			if removed > 0 {
				s.logger.Debug("swept expired oauth state tokens", slog.Int("removed", removed))
			}
		}
	}
}
