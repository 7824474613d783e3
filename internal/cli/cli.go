// Package cli holds the bootstrap shared by the sde-proxy and sde-mcp-server
// commands: persistent flags, config loading and logger setup.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/config"
	"github.com/szaher/sde-mcp-proxy/internal/secrets"
	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

// Flags are the persistent flags of both binaries.
type Flags struct {
	ConfigPath string
	LogLevel   string
	Verbose    bool
	Trace      bool
}

// Register adds the flags to cmd as persistent flags.
func (f *Flags) Register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", os.Getenv("SDEPROXY_CONFIG"), "Path to YAML config file")
	pf.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&f.Verbose, "verbose", false, "Enable debug logging")
	pf.BoolVar(&f.Trace, "trace", false, "Print spans to stderr")
}

// Load reads the config, applies flag overrides and resolves secret
// references.
func (f *Flags) Load(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	f.apply(&cfg)
	if err := cfg.ResolveSecrets(ctx); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (f *Flags) apply(cfg *config.Config) {
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.Verbose {
		cfg.Log.Level = "debug"
	}
	if f.Trace {
		cfg.Tracing.Enabled = true
	}
}

// NewLogger builds the process logger from cfg. Every configured secret is
// registered with the returned sanitizer, which also redacts log output.
func NewLogger(cfg config.Config, w io.Writer) (*slog.Logger, *secrets.Sanitizer, error) {
	level, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	sanitizer := secrets.NewSanitizer(cfg.Secrets()...)
	logger, err := telemetry.NewLogger(w, cfg.Log.Format, level, sanitizer)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, sanitizer, nil
}

// SetupTracing installs the span exporter when tracing is enabled. Spans go
// to stderr so stdout stays usable for command output.
func SetupTracing(cfg config.Config, service, version string) (telemetry.ShutdownFunc, error) {
	return telemetry.SetupTracing(telemetry.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    service,
		ServiceVersion: version,
		SampleRate:     cfg.Tracing.SampleRate,
		Output:         os.Stderr,
	})
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
