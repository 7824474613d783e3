package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process session store. Sessions are kept in their
// serialized form so reads never alias caller-owned maps.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	opts     options
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		opts:     newOptions("", opts),
	}
}

// Get retrieves a session by ID, dropping it if expired.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *MemoryStore) get(id string) (*Session, error) {
	data, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess, err := s.opts.live(data)
	if err == ErrNotFound {
		delete(s.sessions, id)
	}
	return sess, err
}

// History returns the session's turns oldest first.
func (s *MemoryStore) History(ctx context.Context, id string) ([]Turn, error) {
	return historyOf(s.Get(ctx, id))
}

// Append adds a turn under the store lock.
func (s *MemoryStore) Append(_ context.Context, id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(id)
	if err != nil && err != ErrNotFound {
		return err
	}
	data, err := encode(s.opts.appendTurn(sess, id, turn))
	if err != nil {
		return err
	}
	s.sessions[id] = data
	return nil
}

// Delete removes a session by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// PurgeExpired removes every expired session and reports how many were dropped.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.sessions {
		if _, err := s.get(id); err == ErrNotFound {
			n++
		}
	}
	return n, nil
}

// Len reports the number of sessions currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
