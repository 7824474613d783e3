// Package toolserver exposes the SD Elements API as MCP tools.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/szaher/sde-mcp-proxy/internal/sde"
)

// Name is the implementation name reported to MCP clients.
const Name = "sdelements-mcp"

// Server is an MCP server whose tools call one SD Elements instance.
type Server struct {
	mcp    *mcpsdk.Server
	api    *sde.Client
	logger *slog.Logger
	names  []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server and registers every tool.
func New(api *sde.Client, version string, opts ...Option) *Server {
	s := &Server{
		mcp:    mcpsdk.NewServer(&mcpsdk.Implementation{Name: Name, Version: version}, nil),
		api:    api,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerProjects()
	s.registerApplications()
	s.registerCountermeasures()
	s.registerSurveys()
	s.registerReports()
	s.registerDiagrams()
	s.registerUsers()
	s.registerGeneric()
	return s
}

// MCP returns the underlying go-sdk server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// ToolNames lists registered tools in registration order.
func (s *Server) ToolNames() []string {
	return append([]string(nil), s.names...)
}

// RunStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// register adds a tool whose typed input is decoded by the SDK and whose
// output is returned as indented JSON text.
func register[In any](s *Server, name, description string, fn func(ctx context.Context, in In) (any, error)) {
	s.names = append(s.names, name)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
			start := time.Now()
			res, err := fn(ctx, in)
			if err != nil {
				s.logger.Warn("tool failed", "tool", name, "duration", time.Since(start), "error", err)
				return textResult(describeError(err), true), nil, nil
			}
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return textResult("Error: encode result: "+err.Error(), true), nil, nil
			}
			s.logger.Debug("tool succeeded", "tool", name, "duration", time.Since(start))
			return textResult(string(data), false), nil, nil
		})
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}

// describeError prefixes API failures by kind.
func describeError(err error) string {
	var (
		authErr *sde.AuthError
		nfErr   *sde.NotFoundError
		apiErr  *sde.APIError
	)
	switch {
	case errors.As(err, &authErr):
		return "Authentication Error: " + err.Error()
	case errors.As(err, &nfErr):
		return "Not Found: " + err.Error()
	case errors.As(err, &apiErr):
		return "API Error: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Error: request to SD Elements timed out"
	}
	return "Error: " + err.Error()
}
