// Package auth provides API key authentication and per-client rate limiting
// for the proxy's HTTP surface.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAPIKey is accepted alongside "Authorization: Bearer <key>".
const HeaderAPIKey = "X-API-Key"

// Keys is a set of accepted API keys. Comparison is constant time per key.
type Keys struct {
	keys [][]byte
}

// NewKeys builds a key set; empty entries are dropped.
func NewKeys(keys ...string) *Keys {
	k := &Keys{}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			k.keys = append(k.keys, []byte(key))
		}
	}
	return k
}

// Len returns the number of configured keys.
func (k *Keys) Len() int { return len(k.keys) }

// Valid reports whether provided matches any configured key. Every key is
// compared so timing does not reveal which one matched.
func (k *Keys) Valid(provided string) bool {
	if provided == "" {
		return false
	}
	match := 0
	for _, key := range k.keys {
		match |= subtle.ConstantTimeCompare([]byte(provided), key)
	}
	return match == 1
}

// FromRequest extracts the presented key. The second result is false when
// the Authorization header is present but not a Bearer token.
func FromRequest(r *http.Request) (string, bool) {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key, true
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}
