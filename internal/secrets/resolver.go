// Package secrets resolves secret references in configuration and keeps
// secret values out of logs and caller-visible errors.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	// Resolve looks up a secret reference such as "env(VAR_NAME)".
	Resolve(ctx context.Context, ref string) (string, error)
}

// IsRef reports whether value is a secret reference rather than a literal.
func IsRef(value string) bool {
	_, _, ok := parseRef(value)
	return ok
}

func parseRef(value string) (scheme, inner string, ok bool) {
	open := strings.Index(value, "(")
	if open <= 0 || !strings.HasSuffix(value, ")") {
		return "", "", false
	}
	scheme = value[:open]
	switch scheme {
	case "env", "vault":
		return scheme, value[open+1 : len(value)-1], true
	}
	return "", "", false
}

// Refs dispatches references to the resolver registered for their scheme.
// Literal values pass through unchanged.
type Refs struct {
	schemes map[string]Resolver
}

// NewRefs creates a dispatcher with env() support. Vault is registered only
// when vault is non-nil.
func NewRefs(vault *VaultResolver) *Refs {
	r := &Refs{schemes: map[string]Resolver{"env": NewEnvResolver()}}
	if vault != nil {
		r.schemes["vault"] = vault
	}
	return r
}

// Resolve returns the secret for a reference, or value itself if it is not one.
func (r *Refs) Resolve(ctx context.Context, value string) (string, error) {
	scheme, _, ok := parseRef(value)
	if !ok {
		return value, nil
	}
	res, ok := r.schemes[scheme]
	if !ok {
		return "", fmt.Errorf("secret reference %q: no %s resolver configured", value, scheme)
	}
	return res.Resolve(ctx, value)
}
