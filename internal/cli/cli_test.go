package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/testutil"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SDEPROXY_CONFIG", "SDEPROXY_LOG_LEVEL", "SDEPROXY_LOG_FORMAT", "SDEPROXY_TRACING", "SDE_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	clearEnv(t)
	path := testutil.WriteFile(t, "proxy.yaml", `
log:
  level: warn
  format: text
tracing:
  sample_rate: 0.5
`)
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	var f Flags
	f.Register(cmd)
	cmd.SetArgs([]string{"--config", path, "--verbose", "--trace"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cfg, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log config %+v", cfg.Log)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("tracing config %+v", cfg.Tracing)
	}
}

func TestLogLevelFlag(t *testing.T) {
	clearEnv(t)
	f := Flags{LogLevel: "error"}
	cfg, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	f := Flags{ConfigPath: "/nonexistent/proxy.yaml"}
	_, err := f.Load(context.Background())
	testutil.AssertErrorContains(t, err, "reading config")
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	clearEnv(t)
	f := Flags{}
	cfg, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.SDE.APIKey = "sde-token-abc123"

	var buf bytes.Buffer
	logger, sanitizer, err := NewLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("calling upstream", "header", "Token sde-token-abc123")
	if strings.Contains(buf.String(), "sde-token-abc123") {
		t.Errorf("secret leaked into log: %s", buf.String())
	}
	if got := sanitizer.Sanitize("key=sde-token-abc123"); strings.Contains(got, "abc123") {
		t.Errorf("sanitizer did not redact: %q", got)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	clearEnv(t)
	f := Flags{LogLevel: "chatty"}
	cfg, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err := NewLogger(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
