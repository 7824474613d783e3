package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/metadata"
	"github.com/szaher/sde-mcp-proxy/internal/session"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() Config {
	c := Default()
	c.LLM.AnthropicAPIKey = "sk-ant-test"
	return c
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Catalogue.TTL != 5*time.Minute || c.Session.MaxTurns != 50 || c.Session.TTL != 24*time.Hour {
		t.Errorf("limits: %+v %+v", c.Catalogue, c.Session)
	}
	if c.LLM.SelectionTimeout != 30*time.Second || c.LLM.FormattingTimeout != 10*time.Second || c.Tools.CallTimeout != time.Minute {
		t.Errorf("timeouts: %+v %+v", c.LLM, c.Tools)
	}
	if c.Formatter.Strategy != "llm" || c.Session.Backend != "memory" || c.Server.Addr() != "0.0.0.0:8002" {
		t.Errorf("strategy/backend/addr: %q %q %q", c.Formatter.Strategy, c.Session.Backend, c.Server.Addr())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	yamlDoc := `
server:
  port: 9000
catalogue:
  ttl: 2m
session:
  backend: badger
  max_turns: 20
  badger:
    dir: /var/lib/sde
formatter:
  strategy: template
metadata:
  rules:
    - tool: "list_*"
      key: first
      expr: result.results[0].id
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("SDEPROXY_SESSION_BACKEND", "")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Port != 9100 {
		t.Errorf("env should override file port, got %d", c.Server.Port)
	}
	if c.Catalogue.TTL != 2*time.Minute || c.Session.Backend != session.BackendBadger || c.Session.MaxTurns != 20 {
		t.Errorf("file values: %+v %+v", c.Catalogue, c.Session)
	}
	if c.Session.TTL != 24*time.Hour {
		t.Errorf("unset values keep defaults, got ttl %v", c.Session.TTL)
	}
	if len(c.Metadata.Rules) != 1 || c.Metadata.Rules[0].Key != "first" {
		t.Errorf("rules: %+v", c.Metadata.Rules)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("server: [unclosed"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(envMap(map[string]string{
		"MCP_SERVER_URL":              "http://tools:8001/mcp",
		"CLAUDE_MODEL":                "claude-sonnet",
		"CLAUDE_TOOL_SELECTION_MODEL": "claude-haiku",
		"REDIS_HOST":                  "redis",
		"REDIS_PORT":                  "6380",
		"REDIS_DB":                    "2",
		"SESSION_TTL":                 "3600",
		"SDE_HOST":                    "https://acme.sdelements.com",
		"SDEPROXY_API_KEYS":           "a, b,,",
		"SDEPROXY_TRACING":            "true",
		"SDEPROXY_CATALOGUE_TTL":      "90s",
		"SDEPROXY_LOG_LEVEL":          "  ",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.ToolServer.URL != "http://tools:8001/mcp" || c.LLM.Model != "claude-sonnet" || c.LLM.SelectionModel != "claude-haiku" {
		t.Errorf("tool server / models: %+v %+v", c.ToolServer, c.LLM)
	}
	if c.Session.Backend != session.BackendRedis || c.Session.Redis.Addr != "redis:6380" || c.Session.Redis.DB != 2 {
		t.Errorf("redis: %+v", c.Session)
	}
	if c.Session.TTL != time.Hour || c.Catalogue.TTL != 90*time.Second {
		t.Errorf("durations: %v %v", c.Session.TTL, c.Catalogue.TTL)
	}
	if len(c.Server.APIKeys) != 2 || c.Server.APIKeys[1] != "b" {
		t.Errorf("api keys: %q", c.Server.APIKeys)
	}
	if !c.Tracing.Enabled || c.SDE.Host != "https://acme.sdelements.com" {
		t.Errorf("tracing/sde: %+v %+v", c.Tracing, c.SDE)
	}
	if c.Log.Level != "info" {
		t.Errorf("blank variables are ignored, got level %q", c.Log.Level)
	}
}

func TestApplyEnv_ExplicitBackendWins(t *testing.T) {
	c := Default()
	_ = c.ApplyEnv(envMap(map[string]string{"REDIS_HOST": "redis", "SDEPROXY_SESSION_BACKEND": "memory"}))
	if c.Session.Backend != session.BackendMemory {
		t.Errorf("backend = %q", c.Session.Backend)
	}
	if c.Session.Redis.Addr != "redis:6379" {
		t.Errorf("addr = %q", c.Session.Redis.Addr)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	for name, value := range map[string]string{
		"PORT":                   "eighty",
		"SESSION_TTL":            "forever",
		"SDEPROXY_TRACING":       "maybe",
		"SDEPROXY_CATALOGUE_TTL": "5",
	} {
		c := Default()
		err := c.ApplyEnv(envMap(map[string]string{name: value}))
		if err == nil || !strings.Contains(err.Error(), name) {
			t.Errorf("%s=%q: expected error naming the variable, got %v", name, value, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing anthropic key", func(c *Config) { c.LLM.AnthropicAPIKey = "" }, "ANTHROPIC_API_KEY"},
		{"openai without key", func(c *Config) { c.LLM.SelectionModel = "openai/gpt-4o" }, "OPENAI_API_KEY"},
		{"bad backend", func(c *Config) { c.Session.Backend = "mongo" }, "unknown session backend"},
		{"bad strategy", func(c *Config) { c.Formatter.Strategy = "html" }, "unknown formatter strategy"},
		{"zero turns", func(c *Config) { c.Session.MaxTurns = 0 }, "max_turns"},
		{"zero ttl", func(c *Config) { c.Catalogue.TTL = 0 }, "catalogue.ttl"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"stdio without command", func(c *Config) { c.ToolServer.Transport = "stdio" }, "command is required"},
		{"bad rule", func(c *Config) { c.Metadata.Rules = append(c.Metadata.Rules, metadata.Rule{Key: "k", Expr: "(("}) }, "metadata rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_TemplateNeedsOnlySelectionCredentials(t *testing.T) {
	c := Default()
	c.Formatter.Strategy = "template"
	c.LLM.Model = "openai/gpt-4o"
	c.LLM.AnthropicAPIKey = "k"
	if err := c.Validate(); err != nil {
		t.Errorf("formatting model should not need credentials with template strategy: %v", err)
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("SDEPROXY_TEST_ANTHROPIC", "sk-ant-resolved")
	c := Default()
	c.LLM.AnthropicAPIKey = "env(SDEPROXY_TEST_ANTHROPIC)"
	c.SDE.APIKey = "literal"
	c.Server.APIKeys = []string{"env(SDEPROXY_TEST_ANTHROPIC)"}

	if err := c.ResolveSecrets(context.Background()); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if c.LLM.AnthropicAPIKey != "sk-ant-resolved" || c.SDE.APIKey != "literal" || c.Server.APIKeys[0] != "sk-ant-resolved" {
		t.Errorf("resolved: %+v %+v %v", c.LLM, c.SDE, c.Server.APIKeys)
	}

	c.SDE.APIKey = "env(SDEPROXY_TEST_UNSET_VAR)"
	if err := c.ResolveSecrets(context.Background()); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestSecrets(t *testing.T) {
	c := Default()
	c.LLM.AnthropicAPIKey = "a"
	c.Server.APIKeys = []string{"k1"}
	got := strings.Join(c.Secrets(), ",")
	if !strings.Contains(got, "a") || !strings.Contains(got, "k1") {
		t.Errorf("Secrets() = %q", got)
	}
}

func TestValidateToolServer(t *testing.T) {
	c := Default()
	err := c.ValidateToolServer()
	if err == nil || !strings.Contains(err.Error(), "sde.host") || !strings.Contains(err.Error(), "sde.api_key") {
		t.Fatalf("expected host and key errors, got %v", err)
	}

	c.SDE.Host = "ftp://sde.example.com"
	c.SDE.APIKey = "key"
	if err := c.ValidateToolServer(); err == nil {
		t.Error("expected scheme error")
	}

	c.SDE.Host = "https://sde.example.com"
	if err := c.ValidateToolServer(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
