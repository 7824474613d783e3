package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// defaultAnthropicRetries applies to 429/5xx answers. Callers bound the
// total time with their own context deadline.
const defaultAnthropicRetries = 2

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	sdk anthropic.Client
}

// NewAnthropicClient reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicClient(opts ...option.RequestOption) *AnthropicClient {
	return newAnthropic(opts)
}

// NewAnthropicClientWithKey uses an explicit key. Later options, such as a
// base URL for tests, override the defaults.
func NewAnthropicClientWithKey(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	return newAnthropic(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...))
}

func newAnthropic(opts []option.RequestOption) *AnthropicClient {
	base := []option.RequestOption{option.WithMaxRetries(defaultAnthropicRetries)}
	return &AnthropicClient{sdk: anthropic.NewClient(append(base, opts...)...)}
}

// Chat sends one Messages request and concatenates the text blocks.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msg, err := c.sdk.Messages.New(ctx, messageParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	out := &ChatResponse{
		StopReason: anthropicStop(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	texts := 0
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		out.Content += block.Text
		texts++
	}
	if texts == 0 {
		return out, fmt.Errorf("anthropic chat: %w (stop reason %s)", ErrEmptyCompletion, msg.StopReason)
	}
	return out, nil
}

func messageParams(req ChatRequest) anthropic.MessageNewParams {
	msgs := Normalize(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(msgs)),
	}
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	return params
}

func anthropicStop(reason anthropic.StopReason) StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return StopEndTurn
	case anthropic.StopReasonMaxTokens:
		return StopMaxTokens
	case anthropic.StopReasonStopSequence:
		return StopStopSequence
	}
	return StopReason(reason)
}
