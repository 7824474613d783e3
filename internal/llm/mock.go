package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MockResponse is one scripted answer.
type MockResponse struct {
	Content    string
	StopReason StopReason
	Usage      TokenUsage
	Error      error
}

// SelectionResponse scripts a tool-selection answer in the JSON shape the
// selector expects.
func SelectionResponse(tool string, args map[string]any) MockResponse {
	if args == nil {
		args = map[string]any{}
	}
	data, _ := json.Marshal(map[string]any{"tool_name": tool, "arguments": args})
	return MockResponse{Content: string(data)}
}

// MockClient replays scripted responses in order and records every request.
// Once the script runs out the final response is repeated.
type MockClient struct {
	mu     sync.Mutex
	script []MockResponse
	next   int
	calls  []ChatRequest
}

// NewMockClient scripts the given responses.
func NewMockClient(script ...MockResponse) *MockClient {
	return &MockClient{script: script}
}

// Chat records req and plays the next response. A done ctx wins.
func (m *MockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	r, ok := m.advance()
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("mock: no responses configured")
	}
	if r.Error != nil {
		return nil, r.Error
	}
	if r.StopReason == "" {
		r.StopReason = StopEndTurn
	}
	return &ChatResponse{Content: r.Content, StopReason: r.StopReason, Usage: r.Usage}, nil
}

func (m *MockClient) advance() (MockResponse, bool) {
	switch n := len(m.script); {
	case n == 0:
		return MockResponse{}, false
	case m.next < n:
		m.next++
		return m.script[m.next-1], true
	default:
		return m.script[n-1], true
	}
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.calls...)
}

// Reset rewinds the script and forgets recorded requests.
func (m *MockClient) Reset() {
	m.mu.Lock()
	m.next, m.calls = 0, nil
	m.mu.Unlock()
}

// FuncClient adapts a function to Client.
type FuncClient func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

func (f FuncClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}
