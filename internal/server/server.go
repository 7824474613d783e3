// Package server is the proxy's HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/auth"
	"github.com/szaher/sde-mcp-proxy/internal/config"
	"github.com/szaher/sde-mcp-proxy/internal/proxy"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

const (
	serviceName    = "mcp-proxy"
	maxBodyBytes   = 1 << 20
	defaultTimeout = 2 * time.Second
)

// Querier runs natural-language queries.
type Querier interface {
	Query(ctx context.Context, req proxy.Request) proxy.Response
}

// Catalogue lists the tools the proxy can call.
type Catalogue interface {
	Tools(ctx context.Context) ([]tools.Descriptor, error)
}

// Probe reports tool server connectivity. mcp.Client implements it.
type Probe interface {
	Connected() bool
	Connect(ctx context.Context) error
}

// Deps are the components behind the routes. A nil dependency makes its
// routes answer 503.
type Deps struct {
	Querier   Querier
	Catalogue Catalogue
	Sessions  session.Store
	Probe     Probe
}

// Server serves the proxy API.
type Server struct {
	config  config.ServerConfig
	deps    Deps
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	limiter *auth.RateLimiter

	version       string
	sdeHost       string
	toolServerURL string
	healthTimeout time.Duration
	startTime     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithInstance sets the upstream SD Elements host and tool server URL used
// to describe the instance.
func WithInstance(sdeHost, toolServerURL string) Option {
	return func(s *Server) {
		s.sdeHost = sdeHost
		s.toolServerURL = toolServerURL
	}
}

// WithHealthTimeout bounds the connectivity probe in health checks.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *Server) { s.healthTimeout = d }
}

// New creates the server and its routes.
func New(cfg config.ServerConfig, deps Deps, opts ...Option) *Server {
	s := &Server{
		config:        cfg,
		deps:          deps,
		logger:        slog.Default(),
		version:       "dev",
		healthTimeout: defaultTimeout,
		startTime:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		s.limiter = auth.NewRateLimiter(cfg.RateLimit)
	}

	query := http.Handler(http.HandlerFunc(s.handleQuery))
	if s.limiter != nil {
		query = s.limiter.Middleware(auth.ClientIP)(query)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/tools", s.handleTools)
	mux.Handle("POST /api/v1/query", query)
	mux.HandleFunc("GET /api/v1/sessions/{id}/context", s.handleSessionContext)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/sde-instance", s.handleInstance)
	mux.Handle("GET /metrics", metricsHandler())
	s.mux = mux
	return s
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	keys := auth.NewKeys(s.config.APIKeys...)
	skip := []string{"/healthz", "/api/v1/health", "/metrics"}

	var h http.Handler = s.mux
	h = auth.Middleware(keys, skip, s.limiter)(h)
	h = cors(s.config.CORSOrigins)(h)
	h = accessLog(s.logger)(h)
	return correlation(h)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy server starting", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("proxy server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
