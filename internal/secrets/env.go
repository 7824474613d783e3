package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvResolver resolves "env(VAR_NAME)" references from the process
// environment.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver creates an environment variable secret resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// Resolve returns the variable's value. An unset or empty variable is an error.
func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	scheme, name, ok := parseRef(ref)
	if !ok || scheme != "env" || name == "" {
		return "", fmt.Errorf("unsupported secret reference format: %q (expected env(VAR_NAME))", ref)
	}

	value, ok := r.lookup(name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}
