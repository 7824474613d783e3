package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps sessions in an embedded Badger database. Entries carry a
// native TTL and appends retry on transaction conflicts.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

// OpenBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string, opts ...Option) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStore(db, opts...), nil
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB, opts ...Option) *BadgerStore {
	return &BadgerStore{db: db, opts: newOptions("session/", opts)}
}

func (s *BadgerStore) key(id string) []byte {
	return []byte(s.opts.prefix + id)
}

func (s *BadgerStore) read(txn *badger.Txn, key []byte) (*Session, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger value: %w", err)
	}
	return s.opts.live(data)
}

// Get retrieves a session by ID.
func (s *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var sess *Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sess, err = s.read(txn, s.key(id))
		return err
	})
	return sess, err
}

// History returns the session's turns oldest first.
func (s *BadgerStore) History(ctx context.Context, id string) ([]Turn, error) {
	return historyOf(s.Get(ctx, id))
}

// Append adds a turn inside a read-write transaction.
func (s *BadgerStore) Append(ctx context.Context, id string, turn Turn) error {
	key := s.key(id)
	for i := 0; i < maxAppendAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			sess, err := s.read(txn, key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			data, err := encode(s.opts.appendTurn(sess, id, turn))
			if err != nil {
				return err
			}
			e := badger.NewEntry(key, data)
			if s.opts.ttl > 0 {
				e = e.WithTTL(s.opts.ttl)
			}
			return txn.SetEntry(e)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Delete removes a session by ID.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
}

// PurgeExpired deletes sessions expired by the store clock and then runs
// value-log garbage collection.
func (s *BadgerStore) PurgeExpired(ctx context.Context) (int, error) {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(s.opts.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if _, err := s.opts.live(data); errors.Is(err, ErrNotFound) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger scan: %w", err)
	}

	n := 0
	for _, key := range stale {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
			return n, fmt.Errorf("badger delete: %w", err)
		}
		n++
	}

	if err := s.db.RunValueLogGC(0.5); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return n, fmt.Errorf("badger gc: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
