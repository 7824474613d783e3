// Package config loads the proxy configuration from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szaher/sde-mcp-proxy/internal/auth"
	"github.com/szaher/sde-mcp-proxy/internal/format"
	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/mcp"
	"github.com/szaher/sde-mcp-proxy/internal/metadata"
	"github.com/szaher/sde-mcp-proxy/internal/secrets"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

// Config is the complete proxy configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	ToolServer mcp.ServerConfig `yaml:"tool_server"`
	Catalogue  CatalogueConfig  `yaml:"catalogue"`
	Tools      ToolsConfig      `yaml:"tools"`
	LLM        LLMConfig        `yaml:"llm"`
	Formatter  FormatterConfig  `yaml:"formatter"`
	Session    session.Config   `yaml:"session"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	SDE        SDEConfig        `yaml:"sde"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Vault      VaultConfig      `yaml:"vault"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string               `yaml:"host"`
	Port            int                  `yaml:"port"`
	CORSOrigins     []string             `yaml:"cors_origins"`
	APIKeys         []string             `yaml:"api_keys"`
	RateLimit       auth.RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration        `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CatalogueConfig controls the tool catalogue cache.
type CatalogueConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LLMConfig selects completion models and provider credentials.
type LLMConfig struct {
	Model               string        `yaml:"model"`
	SelectionModel      string        `yaml:"selection_model"`
	AnthropicAPIKey     string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey        string        `yaml:"openai_api_key"`
	OpenAIBaseURL       string        `yaml:"openai_base_url"`
	OllamaHost          string        `yaml:"ollama_host"`
	SelectionTimeout    time.Duration `yaml:"selection_timeout"`
	SelectionMaxTokens  int           `yaml:"selection_max_tokens"`
	FormattingTimeout   time.Duration `yaml:"formatting_timeout"`
	FormattingMaxTokens int           `yaml:"formatting_max_tokens"`
}

// Credentials converts the provider settings for llm.NewClientForModel.
func (c LLMConfig) Credentials() llm.Credentials {
	return llm.Credentials{
		AnthropicAPIKey: c.AnthropicAPIKey,
		OpenAIAPIKey:    c.OpenAIAPIKey,
		OpenAIBaseURL:   c.OpenAIBaseURL,
		OllamaHost:      c.OllamaHost,
	}
}

// FormatterConfig picks the response formatting strategy.
type FormatterConfig struct {
	Strategy string `yaml:"strategy"`
}

// MetadataConfig holds operator extraction rules.
type MetadataConfig struct {
	Rules []metadata.Rule `yaml:"rules"`
}

// SDEConfig configures the upstream REST client used by the tool server.
type SDEConfig struct {
	Host     string        `yaml:"host"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// VaultConfig enables vault(path#key) secret references.
type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8002,
			CORSOrigins:     []string{"*"},
			RateLimit:       auth.DefaultRateLimitConfig(),
			ShutdownTimeout: 15 * time.Second,
		},
		ToolServer: mcp.ServerConfig{
			Transport: mcp.TransportStreamableHTTP,
			URL:       "http://localhost:8001/mcp",
		},
		Catalogue: CatalogueConfig{TTL: 5 * time.Minute, FetchTimeout: 30 * time.Second},
		Tools:     ToolsConfig{CallTimeout: 60 * time.Second},
		LLM: LLMConfig{
			Model:               "claude-3-5-haiku-20241022",
			SelectionModel:      "claude-3-5-haiku-20241022",
			SelectionTimeout:    30 * time.Second,
			SelectionMaxTokens:  1000,
			FormattingTimeout:   10 * time.Second,
			FormattingMaxTokens: 2000,
		},
		Formatter: FormatterConfig{Strategy: format.StrategyLLM},
		Session: session.Config{
			Backend:       session.BackendMemory,
			MaxTurns:      session.DefaultMaxTurns,
			TTL:           session.DefaultTTL,
			PurgeSchedule: session.DefaultPurgeSchedule,
			Redis:         session.RedisConfig{Addr: "localhost:6379"},
			Etcd:          session.EtcdConfig{DialTimeout: 5 * time.Second},
		},
		SDE:     SDEConfig{Timeout: 30 * time.Second, RetryMax: 3},
		Log:     LogConfig{Level: "info", Format: telemetry.FormatJSON},
		Tracing: TracingConfig{SampleRate: 1},
		Vault:   VaultConfig{Mount: "secret"},
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolveSecrets replaces env(...) and vault(...) references in secret
// fields with their values.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	var vault *secrets.VaultResolver
	if c.Vault.Address != "" {
		vault = secrets.NewVaultResolver(c.Vault.Address, c.Vault.Token)
		if c.Vault.Mount != "" {
			vault.MountPath = c.Vault.Mount
		}
	}
	refs := secrets.NewRefs(vault)

	fields := []*string{&c.LLM.AnthropicAPIKey, &c.LLM.OpenAIAPIKey, &c.SDE.APIKey, &c.Session.Redis.Password, &c.Session.Postgres.DSN}
	for i := range c.Server.APIKeys {
		fields = append(fields, &c.Server.APIKeys[i])
	}
	for _, f := range fields {
		v, err := refs.Resolve(ctx, *f)
		if err != nil {
			return fmt.Errorf("resolving secret: %w", err)
		}
		*f = v
	}
	return nil
}

// Secrets returns every configured secret value, for log redaction.
func (c Config) Secrets() []string {
	out := []string{c.LLM.AnthropicAPIKey, c.LLM.OpenAIAPIKey, c.SDE.APIKey, c.Session.Redis.Password, c.Vault.Token}
	return append(out, c.Server.APIKeys...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if err := c.ToolServer.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Catalogue.TTL <= 0 {
		add("catalogue.ttl must be positive")
	}
	if c.Tools.CallTimeout <= 0 {
		add("tools.call_timeout must be positive")
	}
	if c.LLM.SelectionTimeout <= 0 || c.LLM.FormattingTimeout <= 0 {
		add("llm timeouts must be positive")
	}
	if c.LLM.SelectionMaxTokens <= 0 || c.LLM.FormattingMaxTokens <= 0 {
		add("llm max tokens must be positive")
	}

	needsLLM := c.Formatter.Strategy != format.StrategyTemplate
	for _, model := range []string{c.LLM.SelectionModel, c.formattingModel(needsLLM)} {
		if model == "" {
			continue
		}
		if err := c.LLM.checkCredentials(model); err != nil {
			errs = append(errs, err)
		}
	}
	if c.LLM.SelectionModel == "" {
		add("llm.selection_model is required")
	}

	switch c.Formatter.Strategy {
	case format.StrategyLLM, format.StrategyTemplate:
	default:
		add("unknown formatter strategy %q", c.Formatter.Strategy)
	}

	if !knownBackend(c.Session.Backend) {
		add("unknown session backend %q (want one of %v)", c.Session.Backend, session.Backends())
	}
	if c.Session.MaxTurns <= 0 {
		add("session.max_turns must be positive")
	}
	if c.Session.TTL <= 0 {
		add("session.ttl must be positive")
	}
	if _, err := telemetry.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case telemetry.FormatJSON, telemetry.FormatText:
	default:
		add("unknown log format %q", c.Log.Format)
	}
	if _, err := metadata.NewExtractor(c.Metadata.Rules, nil); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateToolServer checks only what the sde-mcp-server binary needs.
func (c Config) ValidateToolServer() error {
	var errs []error
	if c.SDE.Host == "" {
		errs = append(errs, errors.New("sde.host is required (SDE_HOST)"))
	} else if u, err := url.Parse(c.SDE.Host); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("sde.host %q must be an http or https URL", c.SDE.Host))
	}
	if c.SDE.APIKey == "" {
		errs = append(errs, errors.New("sde.api_key is required (SDE_API_KEY)"))
	}
	if c.SDE.Timeout <= 0 {
		errs = append(errs, errors.New("sde.timeout must be positive"))
	}
	if _, err := telemetry.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) formattingModel(needed bool) string {
	if !needed {
		return ""
	}
	return c.LLM.Model
}

func (c LLMConfig) checkCredentials(model string) error {
	provider, _ := llm.ParseModelString(model)
	switch provider {
	case llm.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("model %q needs ANTHROPIC_API_KEY (llm.anthropic_api_key)", model)
		}
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("model %q needs OPENAI_API_KEY (llm.openai_api_key)", model)
		}
	}
	return nil
}

func knownBackend(name string) bool {
	for _, b := range session.Backends() {
		if name == b {
			return true
		}
	}
	return false
}
