// Package session stores per-session conversation history for the proxy.
//
// A Session is an ordered, bounded list of Turns keyed by an opaque id. Every
// backend applies the same rules: appends are atomic per session, the turn
// list is capped with oldest-first eviction, and a session whose last update
// is older than the TTL reads as absent.
package session

import (
	"context"
	"errors"
	"time"
)

// Defaults applied when an Option leaves a limit unset.
const (
	DefaultMaxTurns = 50
	DefaultTTL      = 24 * time.Hour
)

// maxAppendAttempts bounds optimistic retries in CAS-based backends.
const maxAppendAttempts = 64

var (
	// ErrNotFound is returned by Get when the session is absent or expired.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when an append loses every optimistic retry.
	ErrConflict = errors.New("session append conflict")
)

// Turn is one completed query/response exchange. Turns are never mutated
// after they are appended.
type Turn struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Query     string         `json:"query"`
	ToolName  string         `json:"tool_name,omitempty"`
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata"`
	Success   bool           `json:"success"`
}

// Session is the persisted record for one conversation.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"conversations"`
}

// Store is implemented by every session backend.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// History returns the stored turns oldest first; absent or expired
	// sessions yield an empty slice and no error.
	History(ctx context.Context, id string) ([]Turn, error)

	// Append creates the session if needed, appends turn, evicts the oldest
	// turns beyond the cap and refreshes the TTL window.
	Append(ctx context.Context, id string, turn Turn) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// Purger is implemented by stores that need an eager sweep of expired data.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	maxTurns int
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

// WithMaxTurns caps the number of turns kept per session.
func WithMaxTurns(n int) Option {
	return func(o *options) { o.maxTurns = n }
}

// WithTTL sets the idle expiry. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithPrefix sets the key prefix used by key/value backends.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(defaultPrefix string, opts []Option) options {
	o := options{
		maxTurns: DefaultMaxTurns,
		ttl:      DefaultTTL,
		prefix:   defaultPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxTurns <= 0 {
		o.maxTurns = DefaultMaxTurns
	}
	if o.ttl < 0 {
		o.ttl = 0
	}
	return o
}

func (o options) clock() time.Time {
	return o.now().UTC()
}

func (o options) expired(sess *Session) bool {
	return o.ttl > 0 && o.clock().Sub(sess.UpdatedAt) > o.ttl
}

// appendTurn applies one append to sess, which may be nil or expired.
func (o options) appendTurn(sess *Session, id string, turn Turn) *Session {
	now := o.clock()
	if sess == nil || o.expired(sess) {
		sess = &Session{ID: id, CreatedAt: now}
	}
	if turn.ID == "" {
		turn.ID = NewTurnID()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	if turn.Metadata == nil {
		turn.Metadata = map[string]any{}
	}

	sess.Turns = append(sess.Turns, turn)
	if over := len(sess.Turns) - o.maxTurns; over > 0 {
		sess.Turns = append([]Turn(nil), sess.Turns[over:]...)
	}
	sess.UpdatedAt = now
	return sess
}

// live decodes data and reports whether it is an unexpired session.
func (o options) live(data []byte) (*Session, error) {
	sess, err := decode(data)
	if err != nil {
		return nil, err
	}
	if o.expired(sess) {
		return nil, ErrNotFound
	}
	return sess, nil
}

func historyOf(sess *Session, err error) ([]Turn, error) {
	if errors.Is(err, ErrNotFound) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Turns == nil {
		return []Turn{}, nil
	}
	return sess.Turns, nil
}
