package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeFactory builds a fresh, empty store configured with opts.
type storeFactory func(t *testing.T, opts ...Option) Store

func turnFor(i int) Turn {
	return Turn{
		Query:    fmt.Sprintf("query %d", i),
		ToolName: "list_projects",
		Response: fmt.Sprintf("response %d", i),
		Success:  true,
	}
}

// runConformance exercises the contract every backend must satisfy.
func runConformance(t *testing.T, newStore storeFactory) {
	t.Run("absent session has empty history", func(t *testing.T) {
		s := newStore(t)
		turns, err := s.History(context.Background(), "missing")
		if err != nil {
			t.Fatalf("History error: %v", err)
		}
		if turns == nil || len(turns) != 0 {
			t.Fatalf("expected empty non-nil history, got %#v", turns)
		}
		if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("insertion order preserved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := s.Append(ctx, "s1", turnFor(i)); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}
		turns, err := s.History(ctx, "s1")
		if err != nil {
			t.Fatalf("History error: %v", err)
		}
		if len(turns) != 5 {
			t.Fatalf("expected 5 turns, got %d", len(turns))
		}
		for i, turn := range turns {
			if turn.Query != fmt.Sprintf("query %d", i) {
				t.Errorf("turn %d query = %q", i, turn.Query)
			}
			if turn.ID == "" || turn.Timestamp.IsZero() {
				t.Errorf("turn %d missing id/timestamp: %+v", i, turn)
			}
		}
	})

	t.Run("fifo eviction at cap", func(t *testing.T) {
		s := newStore(t, WithMaxTurns(50))
		ctx := context.Background()
		for i := 0; i < 55; i++ {
			if err := s.Append(ctx, "s1", turnFor(i)); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}
		turns, _ := s.History(ctx, "s1")
		if len(turns) != 50 {
			t.Fatalf("expected 50 turns, got %d", len(turns))
		}
		if turns[0].Query != "query 5" || turns[49].Query != "query 54" {
			t.Fatalf("unexpected window %q..%q", turns[0].Query, turns[49].Query)
		}
	})

	t.Run("metadata round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		meta := map[string]any{
			"created_id":   float64(42),
			"created_name": "Payments API",
			"ids":          []any{float64(1), float64(2), float64(3)},
			"nested":       map[string]any{"status": "Complete", "ok": true},
			"nothing":      nil,
		}
		turn := turnFor(0)
		turn.Metadata = meta
		if err := s.Append(ctx, "s1", turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
		turns, _ := s.History(ctx, "s1")
		if len(turns) != 1 {
			t.Fatalf("expected 1 turn, got %d", len(turns))
		}
		if !reflect.DeepEqual(turns[0].Metadata, meta) {
			t.Fatalf("metadata changed:\n got %#v\nwant %#v", turns[0].Metadata, meta)
		}
	})

	t.Run("sessions are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Append(ctx, "a", turnFor(1))
		_ = s.Append(ctx, "b", turnFor(2))
		_ = s.Append(ctx, "b", turnFor(3))
		a, _ := s.History(ctx, "a")
		b, _ := s.History(ctx, "b")
		if len(a) != 1 || len(b) != 2 {
			t.Fatalf("expected 1 and 2 turns, got %d and %d", len(a), len(b))
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Append(ctx, "s1", turnFor(0))
		if err := s.Delete(ctx, "s1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if turns, _ := s.History(ctx, "s1"); len(turns) != 0 {
			t.Fatalf("expected no turns after delete, got %d", len(turns))
		}
		if err := s.Delete(ctx, "never-existed"); err != nil {
			t.Fatalf("Delete of absent session: %v", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, WithTTL(time.Hour), WithClock(clock.Now))
		ctx := context.Background()

		_ = s.Append(ctx, "s1", turnFor(0))
		clock.Advance(30 * time.Minute)
		_ = s.Append(ctx, "s1", turnFor(1))
		clock.Advance(45 * time.Minute)

		turns, _ := s.History(ctx, "s1")
		if len(turns) != 2 {
			t.Fatalf("append should refresh the TTL window; got %d turns", len(turns))
		}

		clock.Advance(61 * time.Minute)
		if turns, _ := s.History(ctx, "s1"); len(turns) != 0 {
			t.Fatalf("expected expired session to read as empty, got %d turns", len(turns))
		}

		_ = s.Append(ctx, "s1", turnFor(2))
		turns, _ = s.History(ctx, "s1")
		if len(turns) != 1 || turns[0].Query != "query 2" {
			t.Fatalf("append after expiry should start a fresh session, got %+v", turns)
		}
		sess, err := s.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !sess.CreatedAt.Equal(clock.Now()) {
			t.Errorf("fresh session CreatedAt = %v, want %v", sess.CreatedAt, clock.Now())
		}
	})

	t.Run("concurrent appends to one session", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 16

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Append(ctx, "shared", turnFor(i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent Append: %v", err)
			}
		}

		turns, _ := s.History(ctx, "shared")
		if len(turns) != n {
			t.Fatalf("expected %d turns, got %d (lost update)", n, len(turns))
		}
		seen := make(map[string]bool)
		for _, turn := range turns {
			seen[turn.Query] = true
		}
		if len(seen) != n {
			t.Fatalf("expected %d distinct turns, got %d", n, len(seen))
		}
	})
}
