// Package selector asks a completion model to choose one tool, and its
// arguments, for a natural-language query.
package selector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/prompt"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

// Defaults for a selection request.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 1000
)

const defaultNoMatchReason = "No matching tool found"

// Selector chooses a tool with one completion call per query.
type Selector struct {
	client    llm.Client
	model     string
	timeout   time.Duration
	maxTokens int
	tracer    trace.Tracer
}

// Option configures a Selector.
type Option func(*Selector)

// WithTimeout bounds each completion call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxTokens caps the selection response length.
func WithMaxTokens(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// New creates a Selector that sends requests for model to client.
func New(client llm.Client, model string, opts ...Option) *Selector {
	s := &Selector{
		client:    client,
		model:     model,
		timeout:   DefaultTimeout,
		maxTokens: DefaultMaxTokens,
		tracer:    otel.Tracer("github.com/szaher/sde-mcp-proxy/internal/selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the chosen invocation. It fails with *NoMatchError when the
// model declines, *MalformedSelectionError when its output cannot be parsed
// and *CompletionError when the call itself fails.
func (s *Selector) Select(ctx context.Context, query string, catalogue []tools.Descriptor, history []session.Turn) (tools.Invocation, error) {
	ctx, span := s.tracer.Start(ctx, "selector.Select", trace.WithAttributes(
		attribute.Int("selector.catalogue_size", len(catalogue)),
		attribute.Int("selector.history_turns", len(history)),
	))
	defer span.End()

	inv, err := s.selectTool(ctx, query, catalogue, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		return tools.Invocation{}, err
	}
	span.SetAttributes(attribute.String("selector.tool", inv.Tool))
	return inv, nil
}

func (s *Selector) selectTool(ctx context.Context, query string, catalogue []tools.Descriptor, history []session.Turn) (tools.Invocation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := 0.0
	messages := append(prompt.History(history), llm.Message{
		Role:    llm.RoleUser,
		Content: prompt.Selection(prompt.Catalogue(catalogue), query),
	})

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model:       s.model,
		System:      prompt.SelectionSystem,
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return tools.Invocation{}, &CompletionError{Err: err}
	}
	return Parse(resp.Content)
}

// reply is the selection object the model is asked to produce.
type reply struct {
	ToolName  *string        `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Error     string         `json:"error"`
}

// Parse decodes model output into an invocation. Markdown code fences and
// text around the outermost JSON object are ignored.
func Parse(raw string) (tools.Invocation, error) {
	text := extractObject(raw)
	if text == "" {
		return tools.Invocation{}, &MalformedSelectionError{Raw: raw, Err: errors.New("no JSON object in response")}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return tools.Invocation{}, &MalformedSelectionError{Raw: raw, Err: err}
	}
	if _, ok := fields["tool_name"]; !ok {
		return tools.Invocation{}, &MalformedSelectionError{Raw: raw, Err: errors.New("missing tool_name")}
	}

	var r reply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return tools.Invocation{}, &MalformedSelectionError{Raw: raw, Err: err}
	}

	if r.ToolName == nil || strings.TrimSpace(*r.ToolName) == "" {
		reason := strings.TrimSpace(r.Error)
		if reason == "" {
			reason = defaultNoMatchReason
		}
		return tools.Invocation{}, &NoMatchError{Reason: reason}
	}
	if r.Arguments == nil {
		r.Arguments = map[string]any{}
	}
	return tools.Invocation{Tool: strings.TrimSpace(*r.ToolName), Arguments: r.Arguments}, nil
}

func extractObject(raw string) string {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func errorKind(err error) string {
	var ce *CompletionError
	switch {
	case errors.Is(err, ErrNoMatch):
		return "no_match"
	case errors.Is(err, ErrMalformedSelection):
		return "malformed"
	case errors.As(err, &ce):
		return "completion_failed"
	}
	return "error"
}
