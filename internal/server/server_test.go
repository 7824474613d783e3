package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/auth"
	"github.com/szaher/sde-mcp-proxy/internal/config"
	"github.com/szaher/sde-mcp-proxy/internal/proxy"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/testutil"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

var quiet = testutil.DiscardLogger()

type fakeQuerier struct {
	mu   sync.Mutex
	reqs []proxy.Request
}

func (f *fakeQuerier) Query(_ context.Context, req proxy.Request) proxy.Response {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	id := req.SessionID
	if id == "" {
		id = "sess_generated"
	}
	return proxy.Response{Response: "Found 1 project", Success: true, SessionID: id, ToolName: "list_projects"}
}

type fakeCatalogue struct {
	list []tools.Descriptor
	err  error
}

func (f fakeCatalogue) Tools(context.Context) ([]tools.Descriptor, error) { return f.list, f.err }

type fakeProbe struct {
	connected bool
	err       error
	connects  int
}

func (p *fakeProbe) Connected() bool { return p.connected }

func (p *fakeProbe) Connect(context.Context) error {
	p.connects++
	if p.err == nil {
		p.connected = true
	}
	return p.err
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{Host: "127.0.0.1", Port: 0, CORSOrigins: []string{"*"}}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, deps Deps, opts ...Option) http.Handler {
	t.Helper()
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(cfg, deps, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestQuery(t *testing.T) {
	q := &fakeQuerier{}
	h := newTestServer(t, serverConfig(), Deps{Querier: q})

	rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"list projects","session_id":"s1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["success"] != true || body["session_id"] != "s1" || body["tool_name"] != "list_projects" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("error present on success: %v", body)
	}
	if _, ok := body["State"]; ok {
		t.Fatalf("internal state leaked: %v", body)
	}
	if len(q.reqs) != 1 || q.reqs[0].Query != "list projects" {
		t.Fatalf("requests = %+v", q.reqs)
	}
}

func TestQueryRejectsBadInput(t *testing.T) {
	h := newTestServer(t, serverConfig(), Deps{Querier: &fakeQuerier{}})

	for _, body := range []string{`{`, `{"query":"   "}`, `{}`} {
		rec := do(t, h, http.MethodPost, "/api/v1/query", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, rec.Code)
		}
		if decode(t, rec)["success"] != false {
			t.Errorf("body %q: success should be false", body)
		}
	}
}

func TestQueryNotWired(t *testing.T) {
	h := newTestServer(t, serverConfig(), Deps{})
	rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"hi"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTools(t *testing.T) {
	cat := fakeCatalogue{list: []tools.Descriptor{
		{Name: "list_projects", Description: "List projects", InputSchema: map[string]any{"type": "object"}},
	}}
	h := newTestServer(t, serverConfig(), Deps{Catalogue: cat})

	rec := do(t, h, http.MethodGet, "/api/v1/tools", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	first := body["tools"].([]any)[0].(map[string]any)
	if first["name"] != "list_projects" || first["input_schema"] == nil {
		t.Fatalf("tool = %v", first)
	}

	h = newTestServer(t, serverConfig(), Deps{Catalogue: fakeCatalogue{err: errors.New("down")}})
	if rec := do(t, h, http.MethodGet, "/api/v1/tools", "", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	probe := &fakeProbe{}
	h := newTestServer(t, serverConfig(), Deps{Probe: probe}, WithVersion("1.2.3"))

	rec := do(t, h, http.MethodGet, "/api/v1/health", "", nil)
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["status"] != "healthy" || body["tool_server_connected"] != true {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	if body["version"] != "1.2.3" || body["service"] != "mcp-proxy" {
		t.Fatalf("body = %v", body)
	}
	if probe.connects != 1 {
		t.Fatalf("connects = %d", probe.connects)
	}

	do(t, h, http.MethodGet, "/healthz", "", nil)
	if probe.connects != 1 {
		t.Fatal("connected probe should not reconnect")
	}

	down := &fakeProbe{err: errors.New("refused")}
	h = newTestServer(t, serverConfig(), Deps{Probe: down})
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable || decode(t, rec)["status"] != "unhealthy" {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestSessionContext(t *testing.T) {
	store := session.NewMemoryStore()
	ctx := context.Background()
	for i, tool := range []string{"list_projects", "get_project", "list_projects", "get_project"} {
		_ = store.Append(ctx, "s1", session.Turn{Query: string(rune('a' + i)), ToolName: tool, Success: true})
	}
	h := newTestServer(t, serverConfig(), Deps{Sessions: store})

	rec := do(t, h, http.MethodGet, "/api/v1/sessions/s1/context?limit=1&tool_filter=list_projects", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	turns := body["turns"].([]any)
	if len(turns) != 1 || turns[0].(map[string]any)["query"] != "c" {
		t.Fatalf("turns = %v", turns)
	}
	if body["total_turns"] != float64(4) {
		t.Fatalf("body = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/s1/context", "", nil)
	if turns := decode(t, rec)["turns"].([]any); len(turns) != 4 || turns[0].(map[string]any)["query"] != "a" {
		t.Fatalf("turns = %v", turns)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/sessions/s1/context?limit=-2", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/sessions/missing/context", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	store := session.NewMemoryStore()
	_ = store.Append(context.Background(), "s1", session.Turn{Query: "q", Success: true})
	h := newTestServer(t, serverConfig(), Deps{Sessions: store})

	if rec := do(t, h, http.MethodDelete, "/api/v1/sessions/s1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := store.Get(context.Background(), "s1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
}

func TestDescribeInstance(t *testing.T) {
	tests := []struct {
		host, mcpURL, name, url string
	}{
		{"https://sde-ent-onyxdrift.sdelab.net/", "", "Ent Onyxdrift", "sde-ent-onyxdrift.sdelab.net"},
		{"https://acme.sdelements.com", "", "Acme", "acme.sdelements.com"},
		{"http://sde.internal:8080", "", "SD Elements", "sde.internal:8080"},
		{"", "http://mcp-server:8001/mcp", "SD Elements", "mcp-server:8001"},
		{"", "https://mcp.example.com/mcp/", "SD Elements", "mcp.example.com"},
		{"", "http://localhost:8001", "SD Elements", "localhost:8001"},
		{"", "", "SD Elements", "Unknown"},
	}
	for _, tt := range tests {
		name, url := describeInstance(tt.host, tt.mcpURL)
		if name != tt.name || url != tt.url {
			t.Errorf("describeInstance(%q, %q) = %q, %q; want %q, %q", tt.host, tt.mcpURL, name, url, tt.name, tt.url)
		}
	}
}

func TestAuthAndExemptPaths(t *testing.T) {
	cfg := serverConfig()
	cfg.APIKeys = []string{"secret-key"}
	h := newTestServer(t, cfg, Deps{Querier: &fakeQuerier{}, Probe: &fakeProbe{connected: true}})

	if rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"x"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"x"}`, map[string]string{"X-API-Key": "secret-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should be exempt, status = %d", rec.Code)
	}
}

func TestQueryRateLimit(t *testing.T) {
	cfg := serverConfig()
	cfg.RateLimit = auth.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	h := newTestServer(t, cfg, Deps{Querier: &fakeQuerier{}})

	if rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"x"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/query", `{"query":"x"}`, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
}

func TestCORSAndCorrelation(t *testing.T) {
	cfg := serverConfig()
	cfg.CORSOrigins = []string{"http://ui.local"}
	h := newTestServer(t, cfg, Deps{Probe: &fakeProbe{connected: true}})

	rec := do(t, h, http.MethodOptions, "/api/v1/query", "", map[string]string{
		"Origin":                        "http://ui.local",
		"Access-Control-Request-Method": "POST",
	})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://ui.local" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	rec = do(t, h, http.MethodGet, "/healthz", "", map[string]string{"Origin": "http://evil.local", HeaderRequestID: "req-42"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got %q", got)
	}
	if rec.Header().Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id = %q", rec.Header().Get(HeaderRequestID))
	}

	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("request id should be generated")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(serverConfig(), Deps{Probe: &fakeProbe{connected: true}}, WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
