package session

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a fresh session identifier.
func NewID() string {
	return "sess_" + uuid.NewString()
}

// NewTurnID returns a lexically time-ordered turn identifier.
func NewTurnID() string {
	return ulid.Make().String()
}
