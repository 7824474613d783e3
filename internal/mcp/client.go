// Package mcp connects the proxy to the MCP tool server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

// Transport names accepted in ServerConfig.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportStdio          = "stdio"
)

// ServerConfig holds the configuration for connecting to the tool server.
type ServerConfig struct {
	Transport string   `yaml:"transport"`
	URL       string   `yaml:"url"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
}

// Validate checks the transport settings.
func (c ServerConfig) Validate() error {
	switch c.Transport {
	case "", TransportStreamableHTTP, TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("mcp: url is required for %s transport", c.transportName())
		}
	case TransportStdio:
		if c.Command == "" {
			return errors.New("mcp: command is required for stdio transport")
		}
	default:
		return fmt.Errorf("mcp: unsupported transport %q", c.Transport)
	}
	return nil
}

func (c ServerConfig) transportName() string {
	if c.Transport == "" {
		return TransportStreamableHTTP
	}
	return c.Transport
}

// Client is a lazily connected MCP client for a single tool server. It
// implements tools.Source.
type Client struct {
	config     ServerConfig
	impl       *mcpsdk.Implementation
	httpClient *http.Client
	logger     *slog.Logger
	newTrans   func() (mcpsdk.Transport, error)
	group      singleflight.Group

	mu      sync.RWMutex
	session *mcpsdk.ClientSession
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the HTTP client for HTTP-based transports.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTransport replaces transport construction, e.g. with in-memory
// transports. The factory is called on every (re)connect.
func WithTransport(f func() (mcpsdk.Transport, error)) Option {
	return func(c *Client) { c.newTrans = f }
}

// WithImplementation sets the client name and version reported to the server.
func WithImplementation(name, version string) Option {
	return func(c *Client) { c.impl = &mcpsdk.Implementation{Name: name, Version: version} }
}

// NewClient creates a client; no connection is made until first use.
func NewClient(config ServerConfig, opts ...Option) *Client {
	c := &Client{
		config:     config,
		impl:       &mcpsdk.Implementation{Name: "sde-proxy", Version: "dev"},
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newTrans == nil {
		c.newTrans = c.defaultTransport
	}
	return c
}

func (c *Client) defaultTransport() (mcpsdk.Transport, error) {
	switch c.config.Transport {
	case "", TransportStreamableHTTP:
		return &mcpsdk.StreamableClientTransport{Endpoint: c.config.URL, HTTPClient: c.httpClient}, nil
	case TransportSSE:
		return &mcpsdk.SSEClientTransport{Endpoint: c.config.URL, HTTPClient: c.httpClient}, nil
	case TransportStdio:
		return &mcpsdk.CommandTransport{Command: exec.Command(c.config.Command, c.config.Args...)}, nil
	default:
		return nil, fmt.Errorf("unsupported MCP transport: %s", c.config.Transport)
	}
}

// Connect establishes the session if it is not already up. Concurrent
// callers share one connection attempt.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connected(ctx)
	return err
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

func (c *Client) connected(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	ch := c.group.DoChan("connect", func() (any, error) {
		c.mu.RLock()
		s := c.session
		c.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		transport, err := c.newTrans()
		if err != nil {
			return nil, err
		}
		client := mcpsdk.NewClient(c.impl, nil)
		s, err = client.Connect(context.WithoutCancel(ctx), transport, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: mcp connect: %w", tools.ErrServerUnreachable, err)
		}

		c.mu.Lock()
		c.session = s
		c.mu.Unlock()
		c.logger.Info("connected to MCP server", "transport", c.config.transportName(), "url", c.config.URL)
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*mcpsdk.ClientSession), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkAlive pings the session after a failed request; a dead session is
// dropped so the next call reconnects, and err is marked unreachable.
func (c *Client) checkAlive(ctx context.Context, s *mcpsdk.ClientSession, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if pingErr := s.Ping(ctx, nil); pingErr == nil {
		return err
	}

	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	_ = s.Close()
	c.logger.Warn("MCP session lost", "error", err)
	return fmt.Errorf("%w: %w", tools.ErrServerUnreachable, err)
}

// ListTools returns the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	s, err := c.connected(ctx)
	if err != nil {
		return nil, err
	}

	var out []tools.Descriptor
	for tool, err := range s.Tools(ctx, nil) {
		if err != nil {
			return nil, c.checkAlive(ctx, s, fmt.Errorf("mcp list tools: %w", err))
		}
		out = append(out, tools.Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: normalizeSchema(tool.InputSchema),
		})
	}
	if out == nil {
		out = []tools.Descriptor{}
	}
	return out, nil
}

// CallTool invokes a tool and decodes its result. Text content is joined and
// parsed as JSON; text that is not JSON is returned as {"raw": text}.
// Structured content is used when the result has no text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s, err := c.connected(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, c.checkAlive(ctx, s, fmt.Errorf("mcp call tool %s: %w", name, err))
	}

	text := joinText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, &ToolError{Tool: name, Message: text}
	}

	if text == "" && result.StructuredContent != nil {
		return normalize(result.StructuredContent), nil
	}
	return DecodeText(text), nil
}

// Close closes the session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}

// ToolError is a failure reported by the tool itself (an isError result).
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func joinText(content []mcpsdk.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DecodeText parses a tool's text output as JSON, falling back to {"raw": text}.
func DecodeText(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return map[string]any{"raw": text}
}

// normalize converts any JSON-marshalable value to its decoded JSON form.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"raw": fmt.Sprint(v)}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"raw": string(data)}
	}
	return out
}

func normalizeSchema(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := normalize(schema).(map[string]any); ok {
		return m
	}
	return map[string]any{"type": "object"}
}
