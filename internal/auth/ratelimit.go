package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-client request budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultRateLimitConfig allows 2 queries per second with a burst of 10;
// every query costs at least one model call.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 2, Burst: 10}
}

const (
	authMaxFailures = 10
	authWindow      = time.Minute
	authBlock       = 5 * time.Minute
	maxTracked      = 1000
)

// RateLimiter holds a token bucket per client plus a failed-auth tracker.
type RateLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	authMu       sync.Mutex
	authFailures map[string]*authBucket
}

type authBucket struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
}

// NewRateLimiter creates a limiter. Non-positive fields use the defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	return &RateLimiter{
		config:       config,
		now:          time.Now,
		limiters:     make(map[string]*rate.Limiter),
		authFailures: make(map[string]*authBucket),
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[client]
	if !ok {
		if len(rl.limiters) >= maxTracked {
			clear(rl.limiters)
		}
		l = rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
		rl.limiters[client] = l
	}
	rl.mu.Unlock()
	return l.AllowN(rl.now(), 1)
}

// IsAuthBlocked reports whether client is blocked after repeated failures.
func (rl *RateLimiter) IsAuthBlocked(client string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[client]
	if !ok || b.blockedUntil.IsZero() {
		return false
	}
	if rl.now().Before(b.blockedUntil) {
		return true
	}
	delete(rl.authFailures, client)
	return false
}

// AuthBlockRetryAfter returns whole seconds until client's block ends.
func (rl *RateLimiter) AuthBlockRetryAfter(client string) int {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[client]
	if !ok {
		return 0
	}
	remaining := b.blockedUntil.Sub(rl.now()).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(remaining) + 1
}

// AuthFailure records a failed attempt and reports whether client is now blocked.
func (rl *RateLimiter) AuthFailure(client string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	now := rl.now()
	b, ok := rl.authFailures[client]
	if !ok {
		if len(rl.authFailures) >= maxTracked {
			rl.evictStale(now)
		}
		b = &authBucket{windowStart: now}
		rl.authFailures[client] = b
	}
	if now.Sub(b.windowStart) > authWindow {
		b.failures = 0
		b.windowStart = now
	}

	b.failures++
	if b.failures >= authMaxFailures {
		b.blockedUntil = now.Add(authBlock)
		return true
	}
	return false
}

// AuthSuccess clears failure tracking for client.
func (rl *RateLimiter) AuthSuccess(client string) {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()
	delete(rl.authFailures, client)
}

func (rl *RateLimiter) evictStale(now time.Time) {
	for c, b := range rl.authFailures {
		if (!b.blockedUntil.IsZero() && now.After(b.blockedUntil)) || now.Sub(b.windowStart) > 2*authWindow {
			delete(rl.authFailures, c)
		}
	}
}

// Middleware rejects requests beyond the client's budget with 429.
func (rl *RateLimiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key != "" && !rl.Allow(key) {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", max(1, 1/rl.config.RequestsPerSecond)))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop or the remote host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
