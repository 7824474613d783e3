package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsRef(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"env(ANTHROPIC_API_KEY)", true},
		{"vault(sde/prod#api_key)", true},
		{"sk-ant-literal", false},
		{"file(/etc/key)", false},
		{"(env)", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRef(tt.value); got != tt.want {
			t.Errorf("IsRef(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestEnvResolver(t *testing.T) {
	r := &EnvResolver{lookup: func(name string) (string, bool) {
		switch name {
		case "SDE_API_KEY":
			return "abc123", true
		case "EMPTY":
			return "", true
		}
		return "", false
	}}
	ctx := context.Background()

	got, err := r.Resolve(ctx, "env(SDE_API_KEY)")
	if err != nil || got != "abc123" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	for _, ref := range []string{"env(MISSING)", "env(EMPTY)", "env()", "vault(x)", "SDE_API_KEY"} {
		if _, err := r.Resolve(ctx, ref); err == nil {
			t.Errorf("Resolve(%q): expected error", ref)
		}
	}
}

func TestEnvResolver_ProcessEnvironment(t *testing.T) {
	t.Setenv("SDEPROXY_TEST_SECRET", "from-env")
	got, err := NewEnvResolver().Resolve(context.Background(), "env(SDEPROXY_TEST_SECRET)")
	if err != nil || got != "from-env" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestRefs(t *testing.T) {
	t.Setenv("SDEPROXY_TEST_SECRET", "s3cret")
	refs := NewRefs(nil)
	ctx := context.Background()

	if got, err := refs.Resolve(ctx, "literal-key"); err != nil || got != "literal-key" {
		t.Errorf("literal: %q, %v", got, err)
	}
	if got, err := refs.Resolve(ctx, "env(SDEPROXY_TEST_SECRET)"); err != nil || got != "s3cret" {
		t.Errorf("env: %q, %v", got, err)
	}
	_, err := refs.Resolve(ctx, "vault(app#key)")
	if err == nil || !strings.Contains(err.Error(), "no vault resolver configured") {
		t.Errorf("vault without resolver: %v", err)
	}
}

func vaultServer(t *testing.T, data map[string]any, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.Header.Get("X-Vault-Token"); got != "test-token" {
			t.Errorf("X-Vault-Token = %q", got)
		}
		if r.URL.Path != "/v1/secret/data/sde/prod" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultResolver(t *testing.T) {
	var hits atomic.Int32
	srv := vaultServer(t, map[string]any{"api_key": "k1", "value": "default", "port": 8080}, &hits)
	v := NewVaultResolver(srv.URL+"/", "test-token")
	ctx := context.Background()

	if v.Address != srv.URL {
		t.Errorf("trailing slash not trimmed: %q", v.Address)
	}
	if got, err := v.Resolve(ctx, "vault(sde/prod#api_key)"); err != nil || got != "k1" {
		t.Errorf("with key: %q, %v", got, err)
	}
	if got, err := v.Resolve(ctx, "vault(sde/prod)"); err != nil || got != "default" {
		t.Errorf("default key: %q, %v", got, err)
	}
	if _, err := v.Resolve(ctx, "vault(sde/prod#port)"); err == nil || !strings.Contains(err.Error(), "not a string") {
		t.Errorf("non-string: %v", err)
	}
	if _, err := v.Resolve(ctx, "vault(sde/prod#missing)"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing key: %v", err)
	}
	if _, err := v.Resolve(ctx, "vault(other/path#k)"); err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("404: %v", err)
	}
	if _, err := v.Resolve(ctx, "env(X)"); err == nil || !strings.Contains(err.Error(), "invalid vault ref format") {
		t.Errorf("malformed: %v", err)
	}
}

func TestVaultResolver_Cache(t *testing.T) {
	var hits atomic.Int32
	srv := vaultServer(t, map[string]any{"api_key": "k1"}, &hits)
	v := NewVaultResolver(srv.URL, "test-token")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := v.Resolve(ctx, "vault(sde/prod#api_key)"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 request within TTL, got %d", n)
	}

	now = now.Add(v.CacheTTL + time.Second)
	if _, err := v.Resolve(ctx, "vault(sde/prod#api_key)"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("expected refetch after TTL, got %d requests", n)
	}
}

func TestRefs_WithVault(t *testing.T) {
	var hits atomic.Int32
	srv := vaultServer(t, map[string]any{"api_key": "k1"}, &hits)
	refs := NewRefs(NewVaultResolver(srv.URL, "test-token"))
	if got, err := refs.Resolve(context.Background(), "vault(sde/prod#api_key)"); err != nil || got != "k1" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
}

func TestVaultResolver_SharesPathAcrossKeys(t *testing.T) {
	var hits atomic.Int32
	srv := vaultServer(t, map[string]any{"api_key": "k1", "anthropic": "k2"}, &hits)
	v := NewVaultResolver(srv.URL, "test-token")
	ctx := context.Background()

	a, errA := v.Resolve(ctx, "vault(sde/prod#api_key)")
	b, errB := v.Resolve(ctx, "vault(/sde/prod/#anthropic)")
	if errA != nil || errB != nil || a != "k1" || b != "k2" {
		t.Fatalf("Resolve = %q/%v, %q/%v", a, errA, b, errB)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected one fetch for the shared path, got %d", n)
	}
}
