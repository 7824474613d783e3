package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Middleware rejects requests without a valid key. An empty key set disables
// authentication. Paths in skipPaths, and anything under a skipped path
// ending in "/", pass through. When limiter is non-nil, repeated failures
// from one client block it for a while.
func Middleware(keys *Keys, skipPaths []string, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keys == nil || keys.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped(r.URL.Path, skipPaths) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			client := ClientIP(r)
			if limiter != nil && limiter.IsAuthBlocked(client) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.AuthBlockRetryAfter(client)))
				writeError(w, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
				return
			}

			key, ok := FromRequest(r)
			var msg string
			switch {
			case !ok:
				msg = "invalid Authorization format, expected 'Bearer <key>'"
			case key == "":
				msg = "missing API key"
			case !keys.Valid(key):
				msg = "invalid API key"
			}
			if msg != "" {
				if limiter != nil {
					limiter.AuthFailure(client)
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			if limiter != nil {
				limiter.AuthSuccess(client)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func skipped(path string, skipPaths []string) bool {
	for _, p := range skipPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
