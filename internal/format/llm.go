package format

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/prompt"
)

// Defaults for LLM formatting requests.
const (
	DefaultLLMTimeout   = 10 * time.Second
	DefaultLLMMaxTokens = 2000
)

// LLMFormatter asks a completion model to describe the result.
type LLMFormatter struct {
	client    llm.Client
	model     string
	timeout   time.Duration
	maxTokens int
}

// NewLLM creates an LLM strategy. Non-positive timeout or maxTokens use the
// defaults.
func NewLLM(client llm.Client, model string, timeout time.Duration, maxTokens int) *LLMFormatter {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	if maxTokens <= 0 {
		maxTokens = DefaultLLMMaxTokens
	}
	return &LLMFormatter{client: client, model: model, timeout: timeout, maxTokens: maxTokens}
}

func (f *LLMFormatter) Name() string { return StrategyLLM }

func (f *LLMFormatter) Format(ctx context.Context, in Input) (string, error) {
	ctx, span := otel.Tracer("github.com/szaher/sde-mcp-proxy/internal/format").Start(ctx, "format.LLM")
	defer span.End()
	span.SetAttributes(attribute.String("format.tool", in.Tool))

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	messages := append(prompt.History(in.History), llm.Message{
		Role:    llm.RoleUser,
		Content: prompt.Formatting(in.Tool, in.Query, JSON(in.Result)),
	})
	resp, err := f.client.Chat(ctx, llm.ChatRequest{
		Model:     f.model,
		System:    prompt.FormattingSystem,
		Messages:  messages,
		MaxTokens: f.maxTokens,
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "format failed")
		return "", &Error{Strategy: StrategyLLM, Err: err}
	}
	return strings.TrimSpace(resp.Content), nil
}
