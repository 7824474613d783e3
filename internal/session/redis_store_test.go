package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreConformance(t *testing.T) {
	runConformance(t, func(t *testing.T, opts ...Option) Store {
		s, _ := newTestRedisStore(t, opts...)
		return s
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	s, mr := newTestRedisStore(t, WithTTL(2*time.Hour))
	if err := s.Append(context.Background(), "abc", turnFor(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if !mr.Exists("session:abc") {
		t.Fatalf("expected key session:abc, have %v", mr.Keys())
	}
	if ttl := mr.TTL("session:abc"); ttl != 2*time.Hour {
		t.Errorf("expected native TTL 2h, got %v", ttl)
	}
}

func TestRedisStoreNativeExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	_ = s.Append(ctx, "s1", turnFor(0))
	mr.FastForward(2 * time.Minute)

	if turns, _ := s.History(ctx, "s1"); len(turns) != 0 {
		t.Fatalf("expected key to expire natively, got %d turns", len(turns))
	}
}

func TestRedisStoreCustomPrefix(t *testing.T) {
	s, mr := newTestRedisStore(t, WithPrefix("proxy:"))
	_ = s.Append(context.Background(), "x", turnFor(0))
	if !mr.Exists("proxy:x") {
		t.Fatalf("expected key proxy:x, have %v", mr.Keys())
	}
}
