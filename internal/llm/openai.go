package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client using the OpenAI-compatible chat completions API.
// Works with Ollama, OpenAI, vLLM, LiteLLM, and any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*openai.ClientConfig)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig) { cfg.HTTPClient = c }
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	return newOpenAIClient(openai.DefaultConfig(apiKey), opts)
}

// NewOllamaClient creates a client for a local Ollama instance.
func NewOllamaClient(host string, opts ...OpenAIOption) *OpenAIClient {
	if host == "" {
		host = "http://localhost:11434"
	}
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = strings.TrimRight(host, "/") + "/v1"
	return newOpenAIClient(cfg, opts)
}

// NewOpenAICompatibleClient creates a client for any OpenAI-compatible endpoint.
func NewOpenAICompatibleClient(baseURL, apiKey string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return newOpenAIClient(cfg, opts)
}

func newOpenAIClient(cfg openai.ClientConfig, opts []OpenAIOption) *OpenAIClient {
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range Normalize(req.Messages) {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty response: %w", ErrEmptyCompletion)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func mapFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return StopEndTurn
	case openai.FinishReasonLength:
		return StopMaxTokens
	default:
		return StopReason(string(reason))
	}
}
