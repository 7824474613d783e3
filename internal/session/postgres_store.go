package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sde_proxy_sessions (
	id         TEXT PRIMARY KEY,
	data       JSONB,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps one row per session. Appends lock the row for the
// duration of the read-modify-write; expiry is checked on read and swept by
// PurgeExpired.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStore creates the sessions table if needed and returns a store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PostgresStore{pool: pool, opts: newOptions("", opts)}, nil
}

// Get retrieves a session by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sde_proxy_sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && data == nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return s.opts.live(data)
}

// History returns the session's turns oldest first.
func (s *PostgresStore) History(ctx context.Context, id string) ([]Turn, error) {
	return historyOf(s.Get(ctx, id))
}

// Append adds a turn while holding the session row lock.
func (s *PostgresStore) Append(ctx context.Context, id string, turn Turn) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := s.opts.clock()
		if _, err := tx.Exec(ctx,
			`INSERT INTO sde_proxy_sessions (id, data, updated_at) VALUES ($1, NULL, $2) ON CONFLICT (id) DO NOTHING`,
			id, now); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		var data []byte
		if err := tx.QueryRow(ctx,
			`SELECT data FROM sde_proxy_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&data); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		var sess *Session
		if data != nil {
			var err error
			sess, err = s.opts.live(data)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		next := s.opts.appendTurn(sess, id, turn)
		encoded, err := encode(next)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE sde_proxy_sessions SET data = $2, updated_at = $3 WHERE id = $1`,
			id, encoded, next.UpdatedAt); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
}

// Delete removes a session by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sde_proxy_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows whose last update is older than the TTL.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	if s.opts.ttl <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sde_proxy_sessions WHERE updated_at < $1`, s.opts.clock().Add(-s.opts.ttl))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
