package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

// Registry defaults.
const (
	DefaultCatalogueTTL = 5 * time.Minute
	defaultFetchTimeout = 30 * time.Second
	defaultRetryBackoff = 30 * time.Second
)

// Registry caches the tool catalogue for a TTL. Concurrent refreshes are
// coalesced into a single fetch. When a refresh fails and a previous
// snapshot exists, the stale snapshot is served and no new fetch is tried
// until the retry backoff has passed.
type Registry struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
	group        singleflight.Group

	mu        sync.RWMutex
	snapshot  []Descriptor
	fetchedAt time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCatalogueTTL sets how long a fetched catalogue stays fresh.
func WithCatalogueTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds each catalogue fetch.
func WithFetchTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithRetryBackoff sets how long a stale snapshot is served after a failed
// refresh before the next fetch is attempted. It never exceeds the TTL.
func WithRetryBackoff(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.retryBackoff = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a catalogue cache in front of source.
func NewRegistry(source Source, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:       source,
		ttl:          DefaultCatalogueTTL,
		fetchTimeout: defaultFetchTimeout,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tools returns the current catalogue, fetching it when absent or older than
// the TTL. The returned slice must not be modified.
func (r *Registry) Tools(ctx context.Context) ([]Descriptor, error) {
	if snap, ok := r.fresh(); ok {
		return snap, nil
	}

	ch := r.group.DoChan("catalogue", func() (any, error) {
		return r.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Descriptor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup finds a tool by name in the current snapshot, fresh or stale. A
// fetch happens only when no catalogue has been loaded yet.
func (r *Registry) Lookup(ctx context.Context, name string) (Descriptor, bool, error) {
	r.mu.RLock()
	catalogue := r.snapshot
	r.mu.RUnlock()
	if catalogue == nil {
		var err error
		if catalogue, err = r.Tools(ctx); err != nil {
			return Descriptor{}, false, err
		}
	}
	for _, d := range catalogue {
		if d.Name == name {
			return d, true, nil
		}
	}
	return Descriptor{}, false, nil
}

// Invalidate drops the cached snapshot's freshness; the next call refetches
// but a stale snapshot is still available as a fallback.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

func (r *Registry) fresh() ([]Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil || r.fetchedAt.IsZero() {
		return nil, false
	}
	return r.snapshot, r.now().Sub(r.fetchedAt) < r.ttl
}

// refresh runs inside the singleflight group. The fetch is detached from the
// first caller's cancellation so other waiters are not failed by it.
func (r *Registry) refresh(ctx context.Context) ([]Descriptor, error) {
	if snap, ok := r.fresh(); ok {
		return snap, nil
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
	defer cancel()

	catalogue, err := r.source.ListTools(fetchCtx)
	if err != nil {
		r.mu.Lock()
		stale := r.snapshot
		if stale != nil {
			backoff := min(r.retryBackoff, r.ttl)
			r.fetchedAt = r.now().Add(backoff - r.ttl)
		}
		r.mu.Unlock()

		if stale != nil {
			telemetry.RecordCatalogueFetch("stale")
			r.logger.Warn("tool catalogue refresh failed, serving stale snapshot",
				"error", err, "tools", len(stale), "retry_in", min(r.retryBackoff, r.ttl))
			return stale, nil
		}

		telemetry.RecordCatalogueFetch("error")
		if !errors.Is(err, ErrServerUnreachable) {
			err = fmt.Errorf("%w: %w", ErrServerUnreachable, err)
		}
		return nil, fmt.Errorf("fetch tool catalogue: %w", err)
	}

	snap := make([]Descriptor, len(catalogue))
	copy(snap, catalogue)

	r.mu.Lock()
	r.snapshot = snap
	r.fetchedAt = r.now()
	r.mu.Unlock()

	telemetry.RecordCatalogueFetch("fresh")
	r.logger.Debug("tool catalogue refreshed", "tools", len(snap))
	return snap, nil
}
