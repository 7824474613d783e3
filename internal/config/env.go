package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/session"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ApplyEnv overrides settings from environment variables. It accepts the
// variable names of the original deployment (MCP_SERVER_URL, REDIS_HOST and
// so on) and SDEPROXY_* for the rest.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &c.Server.Host)
	e.integer("PORT", &c.Server.Port)
	e.list("SDEPROXY_CORS_ORIGINS", &c.Server.CORSOrigins)
	e.list("SDEPROXY_API_KEYS", &c.Server.APIKeys)

	e.str("MCP_SERVER_URL", &c.ToolServer.URL)
	e.str("SDEPROXY_TOOL_SERVER_TRANSPORT", &c.ToolServer.Transport)
	e.str("SDEPROXY_TOOL_SERVER_COMMAND", &c.ToolServer.Command)
	e.duration("SDEPROXY_CATALOGUE_TTL", &c.Catalogue.TTL)
	e.duration("SDEPROXY_TOOL_CALL_TIMEOUT", &c.Tools.CallTimeout)

	e.str("ANTHROPIC_API_KEY", &c.LLM.AnthropicAPIKey)
	e.str("OPENAI_API_KEY", &c.LLM.OpenAIAPIKey)
	e.str("OPENAI_BASE_URL", &c.LLM.OpenAIBaseURL)
	e.str("OLLAMA_HOST", &c.LLM.OllamaHost)
	e.str("CLAUDE_MODEL", &c.LLM.Model)
	e.str("CLAUDE_TOOL_SELECTION_MODEL", &c.LLM.SelectionModel)
	e.duration("SDEPROXY_SELECTION_TIMEOUT", &c.LLM.SelectionTimeout)
	e.duration("SDEPROXY_FORMATTING_TIMEOUT", &c.LLM.FormattingTimeout)
	e.str("SDEPROXY_FORMATTER", &c.Formatter.Strategy)

	backendSet := e.str("SDEPROXY_SESSION_BACKEND", &c.Session.Backend)
	e.integer("SDEPROXY_SESSION_MAX_TURNS", &c.Session.MaxTurns)
	if v, ok := e.get("SESSION_TTL"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			e.fail("SESSION_TTL", err)
		} else {
			c.Session.TTL = d
		}
	}
	if host, ok := e.get("REDIS_HOST"); ok {
		port := "6379"
		if _, p, err := net.SplitHostPort(c.Session.Redis.Addr); err == nil {
			port = p
		}
		e.str("REDIS_PORT", &port)
		c.Session.Redis.Addr = net.JoinHostPort(host, port)
		if !backendSet {
			c.Session.Backend = session.BackendRedis
		}
	}
	e.integer("REDIS_DB", &c.Session.Redis.DB)
	e.str("REDIS_PASSWORD", &c.Session.Redis.Password)
	e.str("SDEPROXY_BADGER_DIR", &c.Session.Badger.Dir)
	e.list("SDEPROXY_ETCD_ENDPOINTS", &c.Session.Etcd.Endpoints)
	e.str("SDEPROXY_POSTGRES_DSN", &c.Session.Postgres.DSN)

	e.str("SDE_HOST", &c.SDE.Host)
	e.str("SDE_API_KEY", &c.SDE.APIKey)

	e.str("SDEPROXY_LOG_LEVEL", &c.Log.Level)
	e.str("SDEPROXY_LOG_FORMAT", &c.Log.Format)
	e.boolean("SDEPROXY_TRACING", &c.Tracing.Enabled)

	e.str("VAULT_ADDR", &c.Vault.Address)
	e.str("VAULT_TOKEN", &c.Vault.Token)

	return e.err
}

type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("environment %s: %w", name, err)
	}
}

func (e *envReader) str(name string, dst *string) bool {
	v, ok := e.get(name)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.get(name); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

// parseSeconds accepts a plain number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
