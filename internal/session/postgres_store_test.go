package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Set SDEPROXY_TEST_POSTGRES_DSN to run against a live Postgres.
func newTestPostgresStore(t *testing.T, opts ...Option) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SDEPROXY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SDEPROXY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres connect: %v", err)
	}
	s, err := NewPostgresStore(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE sde_proxy_sessions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreConformance(t *testing.T) {
	if os.Getenv("SDEPROXY_TEST_POSTGRES_DSN") == "" {
		t.Skip("SDEPROXY_TEST_POSTGRES_DSN not set")
	}
	runConformance(t, func(t *testing.T, opts ...Option) Store {
		return newTestPostgresStore(t, opts...)
	})
}

func TestPostgresStorePurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestPostgresStore(t, WithTTL(time.Hour), WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Append(ctx, "old", turnFor(0))
	clock.Advance(2 * time.Hour)
	_ = s.Append(ctx, "new", turnFor(1))

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
}
