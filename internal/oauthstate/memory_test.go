package oauthstate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock. Safe for concurrent reads.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemoryStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMemoryStore(logger, WithClock(clock.Now))
}

func TestMemoryStore_IssueValidateConsume(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	token, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	owner, ok, err := s.Validate(ctx, token)
	if err != nil || !ok {
		t.Fatalf("Validate() = (%q, %v, %v), want (u1, true, nil)", owner, ok, err)
	}
	if owner != "u1" {
		t.Errorf("owner = %q, want %q", owner, "u1")
	}

	if err := s.Consume(ctx, token); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	// A replayed callback must fail.
	if _, ok, _ := s.Validate(ctx, token); ok {
		t.Error("Validate() after Consume() = true, want false")
	}
}

func TestMemoryStore_TokensAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _ := s.Issue(ctx, "u1")
		if seen[token] {
			t.Fatalf("Issue() returned duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestMemoryStore_UnknownToken(t *testing.T) {
	s := newTestMemoryStore(t, newFakeClock())

	owner, ok, err := s.Validate(context.Background(), "never-issued")
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if ok || owner != "" {
		t.Errorf("Validate() = (%q, %v), want (\"\", false)", owner, ok)
	}
}

func TestMemoryStore_ExpiredWithoutSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	token, _ := s.Issue(ctx, "u1")

	clock.Advance(DefaultTTL - time.Second)
	if _, ok, _ := s.Validate(ctx, token); !ok {
		t.Fatal("Validate() just before TTL = false, want true")
	}

	clock.Advance(time.Second)
	if _, ok, _ := s.Validate(ctx, token); ok {
		t.Error("Validate() at TTL = true, want false even though no sweep ran")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (expired entry is still unswept)", s.Len())
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	old1, _ := s.Issue(ctx, "u1")
	_, _ = s.Issue(ctx, "u2")

	clock.Advance(DefaultTTL + time.Second)
	fresh, _ := s.Issue(ctx, "u3")

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Sweep() removed = %d, want 2", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", s.Len())
	}
	if _, ok, _ := s.Validate(ctx, fresh); !ok {
		t.Error("fresh token should survive the sweep")
	}
	if _, ok, _ := s.Validate(ctx, old1); ok {
		t.Error("expired token should not validate after the sweep")
	}
}

func TestMemoryStore_WithTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewMemoryStore(logger, WithClock(clock.Now), WithTTL(time.Minute))

	token, _ := s.Issue(ctx, "u1")
	clock.Advance(61 * time.Second)
	if _, ok, _ := s.Validate(ctx, token); ok {
		t.Error("Validate() after custom TTL = true, want false")
	}
}

func TestMemoryStore_BackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewMemoryStore(logger, WithClock(clock.Now), WithSweepInterval(10*time.Millisecond))

	_, _ = s.Issue(ctx, "u1")
	clock.Advance(DefaultTTL + time.Second)

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background sweep did not run, Len() = %d", s.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_SweepHook(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	swept := make(chan int, 16)
	s := NewMemoryStore(logger,
		WithClock(clock.Now),
		WithSweepInterval(10*time.Millisecond),
		WithSweepHook(func(n int) { swept <- n }),
	)

	_, _ = s.Issue(ctx, "u1")
	_, _ = s.Issue(ctx, "u2")
	clock.Advance(DefaultTTL)

	s.Start()
	defer s.Stop()

	select {
	case n := <-swept:
		if n != 2 {
			t.Errorf("first sweep removed %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep hook was never called")
	}
}

func TestMemoryStore_StopWithoutStart(t *testing.T) {
	s := newTestMemoryStore(t, newFakeClock())
	s.Stop() // must not block
	s.Stop() // and must be idempotent
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := s.Issue(ctx, "u1")
			if err != nil {
				t.Errorf("Issue() error = %v", err)
				return
			}
			if _, ok, _ := s.Validate(ctx, token); !ok {
				t.Errorf("Validate() = false for fresh token")
			}
			_, _ = s.Sweep(ctx)
			_ = s.Consume(ctx, token)
		}()
	}
	wg.Wait()

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMemoryStore_Take(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestMemoryStore(t, clock)

	token, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	owner, ok, err := s.Take(ctx, token)
	if err != nil || !ok || owner != "u1" {
		t.Fatalf("Take() = (%q, %v, %v), want (u1, true, nil)", owner, ok, err)
	}
	if _, ok, _ := s.Take(ctx, token); ok {
		t.Error("second Take() = true, want false")
	}
	if _, ok, _ := s.Validate(ctx, token); ok {
		t.Error("Validate() after Take = true, want false")
	}

	expired, _ := s.Issue(ctx, "u2")
	clock.Advance(DefaultTTL)
	if _, ok, _ := s.Take(ctx, expired); ok {
		t.Error("Take() of expired token = true, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed by Take)", s.Len())
	}
}

func TestMemoryStore_TakeIsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestMemoryStore(t, newFakeClock())

	token, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.Take(ctx, token); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
