package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/szaher/sde-mcp-proxy/internal/testutil"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

type greetInput struct {
	Name string `json:"name" jsonschema:"who to greet"`
}

type lookupInput struct {
	ProjectID int `json:"project_id" jsonschema:"the project id"`
}

// testServer is a go-sdk server wired through in-memory transports. Each
// connect creates a fresh transport pair and server session.
type testServer struct {
	server *mcpsdk.Server

	mu       sync.Mutex
	sessions []*mcpsdk.ServerSession
	connects int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "v0.0.1"}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "greet", Description: "Say hello"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in greetInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `{"hello":"` + in.Name + `"}`}},
			}, nil, nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "plain", Description: "Returns plain text"},
		func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "all good"}},
			}, nil, nil
		})

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_project", Description: "Get a project"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in lookupInput) (*mcpsdk.CallToolResult, any, error) {
			return nil, nil, errors.New("project not found")
		})

	return &testServer{server: server}
}

func (ts *testServer) transport(t *testing.T) func() (mcpsdk.Transport, error) {
	return func() (mcpsdk.Transport, error) {
		serverT, clientT := mcpsdk.NewInMemoryTransports()
		ss, err := ts.server.Connect(context.Background(), serverT, nil)
		if err != nil {
			return nil, err
		}
		ts.mu.Lock()
		ts.sessions = append(ts.sessions, ss)
		ts.connects++
		ts.mu.Unlock()
		t.Cleanup(func() { _ = ss.Close() })
		return clientT, nil
	}
}

func (ts *testServer) dropSessions() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, ss := range ts.sessions {
		_ = ss.Close()
	}
	ts.sessions = nil
}

func (ts *testServer) connectCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.connects
}

func newTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()
	c := NewClient(ServerConfig{Transport: TransportStreamableHTTP, URL: "memory"},
		WithTransport(ts.transport(t)),
		WithLogger(testutil.DiscardLogger()),
	)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientListTools(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	if c.Connected() {
		t.Fatal("client should connect lazily")
	}

	catalogue, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if !c.Connected() {
		t.Error("expected client to be connected after ListTools")
	}

	byName := make(map[string]tools.Descriptor)
	for _, d := range catalogue {
		byName[d.Name] = d
	}
	greet, ok := byName["greet"]
	if !ok {
		t.Fatalf("greet missing from catalogue: %+v", catalogue)
	}
	if greet.Description != "Say hello" {
		t.Errorf("unexpected description %q", greet.Description)
	}
	params := greet.Parameters()
	if len(params) != 1 || params[0].Name != "name" || params[0].Type != "string" || !params[0].Required {
		t.Errorf("unexpected greet parameters %+v", params)
	}
	if byName["get_project"].Parameters()[0].Type != "integer" {
		t.Errorf("expected integer project_id, got %+v", byName["get_project"].Parameters())
	}
}

func TestClientCallToolDecodesJSON(t *testing.T) {
	c := newTestClient(t, newTestServer(t))

	result, err := c.CallTool(context.Background(), "greet", map[string]any{"name": "sde"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["hello"] != "sde" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestClientCallToolRawText(t *testing.T) {
	c := newTestClient(t, newTestServer(t))

	result, err := c.CallTool(context.Background(), "plain", map[string]any{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["raw"] != "all good" {
		t.Fatalf("expected raw wrapper, got %#v", result)
	}
}

func TestClientCallToolErrorResult(t *testing.T) {
	c := newTestClient(t, newTestServer(t))

	_, err := c.CallTool(context.Background(), "get_project", map[string]any{"project_id": 7})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T %v", err, err)
	}
	if toolErr.Message != "project not found" {
		t.Errorf("unexpected message %q", toolErr.Message)
	}
	if errors.Is(err, tools.ErrServerUnreachable) {
		t.Error("a tool-level error must not be reported as unreachable")
	}
}

func TestClientUnknownToolIsNotUnreachable(t *testing.T) {
	c := newTestClient(t, newTestServer(t))

	_, err := c.CallTool(context.Background(), "missing_tool", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if errors.Is(err, tools.ErrServerUnreachable) {
		t.Errorf("protocol error on a live session should not be unreachable: %v", err)
	}
	if !c.Connected() {
		t.Error("live session should be kept after a protocol error")
	}
}

func TestClientConnectFailure(t *testing.T) {
	c := NewClient(ServerConfig{URL: "memory"},
		WithTransport(func() (mcpsdk.Transport, error) {
			return nil, errors.New("dial tcp 127.0.0.1:8001: connection refused")
		}),
		WithLogger(testutil.DiscardLogger()),
	)

	_, err := c.ListTools(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if c.Connected() {
		t.Error("client must not report connected after a failed connect")
	}
}

func TestClientReconnectsAfterSessionLoss(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	ctx := context.Background()

	if _, err := c.CallTool(ctx, "greet", map[string]any{"name": "a"}); err != nil {
		t.Fatalf("first CallTool: %v", err)
	}

	ts.dropSessions()
	_, err := c.CallTool(ctx, "greet", map[string]any{"name": "b"})
	if !errors.Is(err, tools.ErrServerUnreachable) {
		t.Fatalf("expected ErrServerUnreachable after session loss, got %v", err)
	}

	if _, err := c.CallTool(ctx, "greet", map[string]any{"name": "c"}); err != nil {
		t.Fatalf("CallTool after reconnect: %v", err)
	}
	if got := ts.connectCount(); got != 2 {
		t.Errorf("expected 2 connects, got %d", got)
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"default transport with url", ServerConfig{URL: "http://localhost:8001/mcp"}, false},
		{"http without url", ServerConfig{Transport: TransportStreamableHTTP}, true},
		{"sse with url", ServerConfig{Transport: TransportSSE, URL: "http://x/sse"}, false},
		{"stdio with command", ServerConfig{Transport: TransportStdio, Command: "sde-mcp-server"}, false},
		{"stdio without command", ServerConfig{Transport: TransportStdio}, true},
		{"unknown transport", ServerConfig{Transport: "websocket", URL: "ws://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeText(t *testing.T) {
	if v := DecodeText(`[1,2]`); len(v.([]any)) != 2 {
		t.Errorf("expected array, got %#v", v)
	}
	if v := DecodeText(`not json`).(map[string]any); v["raw"] != "not json" {
		t.Errorf("expected raw wrapper, got %#v", v)
	}
}
