package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreConformance(t *testing.T) {
	runConformance(t, func(t *testing.T, opts ...Option) Store {
		return NewMemoryStore(opts...)
	})
}

func TestMemoryStoreReadsDoNotAlias(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	turn := turnFor(0)
	turn.Metadata = map[string]any{"created_id": float64(1)}
	_ = s.Append(ctx, "s1", turn)

	turn.Metadata["created_id"] = float64(99)
	turns, _ := s.History(ctx, "s1")
	turns[0].Metadata["created_id"] = float64(7)

	again, _ := s.History(ctx, "s1")
	if again[0].Metadata["created_id"] != float64(1) {
		t.Fatalf("stored metadata was mutated: %v", again[0].Metadata)
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Append(ctx, "old", turnFor(0))
	clock.Advance(2 * time.Hour)
	_ = s.Append(ctx, "new", turnFor(1))

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged session, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 remaining session, got %d", s.Len())
	}
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithTTL(0), WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Append(ctx, "s1", turnFor(0))
	clock.Advance(10000 * time.Hour)
	if turns, _ := s.History(ctx, "s1"); len(turns) != 1 {
		t.Fatalf("expected session to survive with TTL disabled, got %d turns", len(turns))
	}
}
