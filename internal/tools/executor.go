package tools

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 60 * time.Second

// Executor invokes tools from the registry's catalogue against the source.
// It performs no retries.
type Executor struct {
	registry *Registry
	source   Source
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an executor. A non-positive timeout uses DefaultCallTimeout.
func NewExecutor(registry *Registry, source Source, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, source: source, timeout: timeout, logger: logger}
}

// Execute runs inv and returns the tool's decoded result. Failures are
// *UnknownToolError or *ExecutionError.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (any, error) {
	ctx, span := otel.Tracer("github.com/szaher/sde-mcp-proxy/internal/tools").Start(ctx, "tools.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", inv.Tool))

	if _, ok, err := e.registry.Lookup(ctx, inv.Tool); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalogue unavailable")
		return nil, &ExecutionError{Tool: inv.Tool, Err: err}
	} else if !ok {
		err := &UnknownToolError{Name: inv.Tool}
		telemetry.RecordToolCall("_unknown", "unknown_tool", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown tool")
		return nil, err
	}

	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.source.CallTool(callCtx, inv.Tool, args)
	elapsed := time.Since(start)

	if err != nil {
		telemetry.RecordToolCall(inv.Tool, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, telemetry.ClassifyError(err))
		e.logger.Debug("tool call failed", "tool", inv.Tool, "duration", elapsed, "error", err)
		return nil, &ExecutionError{Tool: inv.Tool, Err: err}
	}

	telemetry.RecordToolCall(inv.Tool, "success", elapsed)
	e.logger.Debug("tool call succeeded", "tool", inv.Tool, "duration", elapsed)
	return result, nil
}
