package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
)

const (
	vaultDefaultKey  = "value"
	vaultMaxResponse = 1 << 20
)

// VaultResolver reads "vault(path#key)" references from a KV v2 mount.
// Each secret path is fetched once per CacheTTL and shared by all its keys.
type VaultResolver struct {
	Address   string
	Token     string
	MountPath string
	CacheTTL  time.Duration

	http  *retryablehttp.Client
	now   func() time.Time
	group singleflight.Group

	mu    sync.Mutex
	paths map[string]vaultDoc
}

type vaultDoc struct {
	data    map[string]any
	fetched time.Time
}

// NewVaultResolver targets the Vault server at address with token auth.
func NewVaultResolver(address, token string) *VaultResolver {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.HTTPClient.Timeout = 10 * time.Second
	hc.Logger = nil

	return &VaultResolver{
		Address:   strings.TrimRight(address, "/"),
		Token:     token,
		MountPath: "secret",
		CacheTTL:  5 * time.Minute,
		http:      hc,
		now:       time.Now,
		paths:     make(map[string]vaultDoc),
	}
}

// Resolve returns the string at path#key; a bare path reads "value".
func (v *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	path, key, err := splitVaultRef(ref)
	if err != nil {
		return "", err
	}
	doc, err := v.document(ctx, path)
	if err != nil {
		return "", err
	}

	raw, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in vault secret at %s", key, path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault key %q at %s is not a string", key, path)
	}
	return s, nil
}

func splitVaultRef(ref string) (path, key string, err error) {
	scheme, inner, ok := parseRef(ref)
	if !ok || scheme != "vault" || inner == "" {
		return "", "", fmt.Errorf("invalid vault ref format: %s (expected vault(path#key))", ref)
	}
	path, key, _ = strings.Cut(inner, "#")
	if key == "" {
		key = vaultDefaultKey
	}
	return strings.Trim(path, "/"), key, nil
}

func (v *VaultResolver) document(ctx context.Context, path string) (map[string]any, error) {
	v.mu.Lock()
	doc, ok := v.paths[path]
	v.mu.Unlock()
	if ok && v.now().Sub(doc.fetched) < v.CacheTTL {
		return doc.data, nil
	}

	res, err, _ := v.group.Do(path, func() (any, error) {
		data, err := v.fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.paths[path] = vaultDoc{data: data, fetched: v.now()}
		v.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

func (v *VaultResolver) fetch(ctx context.Context, path string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/v1/%s/data/%s", v.Address, strings.Trim(v.MountPath, "/"), path)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", v.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault error (status %d) reading %s", resp.StatusCode, path)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, vaultMaxResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return map[string]any{}, nil
	}
	return envelope.Data.Data, nil
}
