package session

import (
	"context"
	"testing"
	"time"
)

func newTestBadgerStore(t *testing.T, opts ...Option) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore("", opts...)
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreConformance(t *testing.T) {
	runConformance(t, func(t *testing.T, opts ...Option) Store {
		return newTestBadgerStore(t, opts...)
	})
}

func TestBadgerStorePurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestBadgerStore(t, WithTTL(time.Hour), WithClock(clock.Now))
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
	if turns, _ := s.History(ctx, "new"); len(turns) != 1 {
		t.Errorf("live session should survive purge, got %d turns", len(turns))
	}
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	_ = s.Append(ctx, "s1", turnFor(0))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if turns, _ := reopened.History(ctx, "s1"); len(turns) != 1 {
		t.Fatalf("expected persisted turn after reopen, got %d", len(turns))
	}
}
