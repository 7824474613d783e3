package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szaher/sde-mcp-proxy/internal/format"
	"github.com/szaher/sde-mcp-proxy/internal/metadata"
	"github.com/szaher/sde-mcp-proxy/internal/secrets"
	"github.com/szaher/sde-mcp-proxy/internal/selector"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

const (
	msgNoTools        = "No tools available from MCP server"
	errNoTools        = "No tools available"
	msgCancelled      = "request cancelled"
	msgUnreachable    = "The tool server is currently unreachable. Please try again shortly."
	msgEmptyQuery     = "query must not be empty"
	maxLoggedModelOut = 300
)

// Orchestrator composes the pipeline. It is safe for concurrent use; all
// per-session state lives in the session store.
type Orchestrator struct {
	store     session.Store
	catalogue Catalogue
	selector  Selector
	executor  Executor
	formatter Formatter
	extractor Extractor

	sanitizer *secrets.Sanitizer
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	backend   string
}

// Deps are the orchestrator's collaborators. Extractor defaults to the
// built-in metadata heuristics.
type Deps struct {
	Store     session.Store
	Catalogue Catalogue
	Selector  Selector
	Executor  Executor
	Formatter Formatter
	Extractor Extractor
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSanitizer sets the sanitizer applied to caller-visible errors.
func WithSanitizer(s *secrets.Sanitizer) Option {
	return func(o *Orchestrator) { o.sanitizer = s }
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithBackendLabel names the session backend in metrics.
func WithBackendLabel(name string) Option {
	return func(o *Orchestrator) { o.backend = name }
}

// New validates deps and builds an orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("proxy: session store is required")
	case deps.Catalogue == nil:
		return nil, errors.New("proxy: catalogue is required")
	case deps.Selector == nil:
		return nil, errors.New("proxy: selector is required")
	case deps.Executor == nil:
		return nil, errors.New("proxy: executor is required")
	case deps.Formatter == nil:
		return nil, errors.New("proxy: formatter is required")
	}

	o := &Orchestrator{
		store:     deps.Store,
		catalogue: deps.Catalogue,
		selector:  deps.Selector,
		executor:  deps.Executor,
		formatter: deps.Formatter,
		extractor: deps.Extractor,
		sanitizer: secrets.NewSanitizer(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/szaher/sde-mcp-proxy/internal/proxy"),
		now:       time.Now,
		backend:   "unknown",
	}
	if o.extractor == nil {
		o.extractor = builtinExtractor{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type builtinExtractor struct{}

func (builtinExtractor) Extract(tool string, result any) map[string]any {
	return metadata.Extract(tool, result)
}

// Query runs one request through the pipeline. It always returns a
// well-formed response; failures are reported in the response itself.
func (o *Orchestrator) Query(ctx context.Context, req Request) Response {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	}

	ctx, span := o.tracer.Start(ctx, "proxy.Query", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	r := &run{
		o:         o,
		ctx:       ctx,
		span:      span,
		query:     strings.TrimSpace(req.Query),
		sessionID: sessionID,
		logger:    telemetry.RequestLogger(o.logger, ctx, sessionID),
		state:     StateReceived,
	}
	resp := r.execute()
	resp.SessionID = sessionID
	resp.State = r.state

	telemetry.RecordQuery(string(r.state))
	span.SetAttributes(attribute.String("proxy.outcome", string(r.state)))
	if !resp.Success {
		span.SetStatus(codes.Error, string(r.state))
	}
	return resp
}

// run holds the state of one request.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	span      trace.Span
	query     string
	sessionID string
	logger    *slog.Logger
	state     State
}

func (r *run) enter(s State) {
	r.state = s
	r.span.AddEvent(string(s))
}

func (r *run) stage(name string, start time.Time) {
	telemetry.ObserveStage(name, time.Since(start))
}

func (r *run) execute() Response {
	if r.query == "" {
		r.enter(StateInvalidRequest)
		return Response{Response: msgEmptyQuery, Error: msgEmptyQuery}
	}

	start := time.Now()
	history, err := r.o.store.History(r.ctx, r.sessionID)
	r.stage("history", start)
	if err != nil {
		if r.cancelled() {
			return r.cancel()
		}
		r.logger.Warn("session history unavailable, continuing without it", "error", err)
		history = nil
	}

	start = time.Now()
	catalogue, err := r.o.catalogue.Tools(r.ctx)
	r.stage("catalogue", start)
	if err != nil {
		if r.cancelled() {
			return r.cancel()
		}
		r.enter(StateCatalogueUnavailable)
		r.logger.Error("tool catalogue unavailable", "error", err)
		return Response{Response: msgUnreachable, Error: r.sanitize(err)}
	}
	r.enter(StateToolsFetched)
	if len(catalogue) == 0 {
		r.enter(StateNoToolsAvailable)
		r.logger.Warn("tool catalogue is empty")
		return Response{Response: msgNoTools, Error: errNoTools}
	}

	start = time.Now()
	inv, err := r.o.selector.Select(r.ctx, r.query, catalogue, history)
	r.stage("select", start)
	if err != nil {
		if r.cancelled() {
			return r.cancel()
		}
		return r.selectionFailed(err)
	}
	r.enter(StateToolSelected)
	r.logger.Info("tool selected", "tool", inv.Tool, "history_turns", len(history))

	start = time.Now()
	result, err := r.o.executor.Execute(r.ctx, inv)
	r.stage("execute", start)
	if err != nil {
		if r.cancelled() {
			return r.cancel()
		}
		return r.executionFailed(inv.Tool, err)
	}
	r.enter(StateToolExecuted)

	meta := r.o.extractor.Extract(inv.Tool, result)

	start = time.Now()
	text, err := r.o.formatter.Format(r.ctx, format.Input{
		Tool:    inv.Tool,
		Query:   r.query,
		Result:  result,
		History: history,
	})
	if err != nil || text == "" {
		// Chain never fails; a bare strategy might.
		r.logger.Warn("formatting failed, using template", "tool", inv.Tool, "error", err)
		text = format.Render(inv.Tool, result)
	}
	r.stage("format", start)
	r.enter(StateFormatted)

	if r.cancelled() {
		return r.cancel()
	}

	start = time.Now()
	err = r.o.store.Append(r.ctx, r.sessionID, session.Turn{
		Timestamp: r.o.now(),
		Query:     r.query,
		ToolName:  inv.Tool,
		Response:  text,
		Metadata:  meta,
		Success:   true,
	})
	r.stage("record", start)
	telemetry.RecordSessionAppend(r.o.backend, err)
	if err != nil {
		r.logger.Warn("failed to record conversation turn", "tool", inv.Tool, "error", err)
	}
	r.enter(StateRecorded)

	r.enter(StateResponded)
	return Response{Response: text, Success: true, ToolName: inv.Tool}
}

func (r *run) cancelled() bool {
	return r.ctx.Err() != nil
}

func (r *run) cancel() Response {
	r.enter(StateCancelled)
	r.logger.Info("request cancelled", "error", r.ctx.Err())
	return Response{Response: msgCancelled, Error: msgCancelled}
}

func (r *run) selectionFailed(err error) Response {
	r.enter(StateSelectionFailed)

	var (
		noMatch   *selector.NoMatchError
		malformed *selector.MalformedSelectionError
		msg       string
	)
	switch {
	case errors.As(err, &noMatch):
		r.logger.Info("no tool matched query", "reason", noMatch.Reason)
		msg = "Tool selection failed: " + noMatch.Reason
	case errors.As(err, &malformed):
		r.logger.Warn("tool selection output malformed", "error", malformed.Err, "model_output", excerpt(malformed.Raw))
		msg = "Tool selection failed: the response could not be interpreted. Please rephrase your query."
	default:
		r.logger.Error("tool selection request failed", "error_type", telemetry.ClassifyError(err), "error", err)
		msg = "Tool selection failed: " + r.sanitize(err)
	}
	msg = r.o.sanitizer.Sanitize(msg)
	return Response{Response: msg, Error: msg}
}

func (r *run) executionFailed(tool string, err error) Response {
	r.enter(StateExecutionFailed)

	cause := err
	var unknown *tools.UnknownToolError
	var execErr *tools.ExecutionError
	switch {
	case errors.As(err, &unknown):
		r.logger.Warn("selected tool not in catalogue", "tool", tool)
	case errors.As(err, &execErr):
		cause = execErr.Err
		r.logger.Error("tool execution failed", "tool", tool,
			"unreachable", errors.Is(err, tools.ErrServerUnreachable), "error", err)
	default:
		r.logger.Error("tool execution failed", "tool", tool, "error", err)
	}

	clean := r.sanitize(cause)
	return Response{
		Response: fmt.Sprintf("Failed to execute tool '%s': %s", tool, clean),
		ToolName: tool,
		Error:    clean,
	}
}

func (r *run) sanitize(err error) string {
	msg := r.o.sanitizer.Sanitize(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}

func excerpt(s string) string {
	if len(s) <= maxLoggedModelOut {
		return s
	}
	return s[:maxLoggedModelOut] + "..."
}
