// Package llm defines the completion capability used for tool selection and
// response formatting.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason says why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("completion contained no text")

// Message is one entry of the prompt conversation. Prior session turns are
// sent as user/assistant pairs ahead of the current query.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TokenUsage counts tokens billed for one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ChatRequest is a single non-streaming completion.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// ChatResponse is the model's text answer.
type ChatResponse struct {
	Content    string     `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// Client is implemented by every provider. Implementations must be safe for
// concurrent use and honour ctx cancellation and deadlines.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Normalize prepares messages for providers that require strict alternation
// starting with the user: blank messages are dropped, leading assistant
// messages are removed and consecutive messages from the same role are joined.
func Normalize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != RoleAssistant {
			m.Role = RoleUser
		}
		if len(out) == 0 && m.Role == RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
