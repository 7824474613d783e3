// Package proxy turns natural-language queries into tool calls: it reads the
// session history, selects a tool, executes it, formats the result and
// records the turn.
package proxy

import (
	"context"

	"github.com/szaher/sde-mcp-proxy/internal/format"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

// Request is the query endpoint's input.
type Request struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the query endpoint's output. SessionID is always set; ToolName
// is set whenever a tool was selected; Error only when Success is false.
type Response struct {
	Response  string `json:"response"`
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name,omitempty"`
	Error     string `json:"error,omitempty"`

	// State is the state the request ended in.
	State State `json:"-"`
}

// State is a step of the query pipeline.
type State string

// Pipeline states, in order.
const (
	StateReceived     State = "received"
	StateToolsFetched State = "tools_fetched"
	StateToolSelected State = "tool_selected"
	StateToolExecuted State = "tool_executed"
	StateFormatted    State = "formatted"
	StateRecorded     State = "recorded"
	StateResponded    State = "responded"
)

// Terminal failure states.
const (
	StateInvalidRequest       State = "invalid_request"
	StateCatalogueUnavailable State = "catalogue_unavailable"
	StateNoToolsAvailable     State = "no_tools_available"
	StateSelectionFailed      State = "selection_failed"
	StateExecutionFailed      State = "execution_failed"
	StateCancelled            State = "cancelled"
)

// Catalogue supplies the current tool catalogue.
type Catalogue interface {
	Tools(ctx context.Context) ([]tools.Descriptor, error)
}

// Selector picks a tool for a query.
type Selector interface {
	Select(ctx context.Context, query string, catalogue []tools.Descriptor, history []session.Turn) (tools.Invocation, error)
}

// Executor runs a selected tool.
type Executor interface {
	Execute(ctx context.Context, inv tools.Invocation) (any, error)
}

// Extractor derives turn metadata from a tool result.
type Extractor interface {
	Extract(tool string, result any) map[string]any
}

// Formatter is satisfied by format.Chain and single strategies.
type Formatter = format.Formatter
