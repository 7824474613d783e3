package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as one JSON value under prefix+id with a
// native TTL. Appends use WATCH/MULTI so concurrent writers retry instead of
// overwriting each other.
type RedisStore struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   newOptions("session:", opts),
	}
}

func (s *RedisStore) key(id string) string {
	return s.opts.prefix + id
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) (*Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return s.opts.live(data)
}

// Get retrieves a session by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, s.client, s.key(id))
}

// History returns the session's turns oldest first.
func (s *RedisStore) History(ctx context.Context, id string) ([]Turn, error) {
	return historyOf(s.Get(ctx, id))
}

// Append adds a turn with optimistic locking on the session key.
func (s *RedisStore) Append(ctx context.Context, id string, turn Turn) error {
	key := s.key(id)

	txf := func(tx *redis.Tx) error {
		sess, err := s.load(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		data, err := encode(s.opts.appendTurn(sess, id, turn))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.opts.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxAppendAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis append: %w", err)
	}
	return ErrConflict
}

// Delete removes a session by ID.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
