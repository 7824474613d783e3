package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

const tracerName = "github.com/szaher/sde-mcp-proxy/internal/llm"

// instrumented wraps a Client with a span and Prometheus metrics per call.
type instrumented struct {
	next     Client
	provider Provider
	tracer   trace.Tracer
}

// Instrument decorates client so every Chat call is traced and counted under
// the given provider label.
func Instrument(client Client, provider Provider) Client {
	if _, ok := client.(*instrumented); ok {
		return client
	}
	return &instrumented{
		next:     client,
		provider: provider,
		tracer:   otel.Tracer(tracerName),
	}
}

func (c *instrumented) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(c.provider)),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.max_tokens", req.MaxTokens),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.next.Chat(ctx, req)
	elapsed := time.Since(start)

	var usage TokenUsage
	if resp != nil {
		usage = resp.Usage
	}
	telemetry.RecordLLMCall(string(c.provider), elapsed, usage.InputTokens, usage.OutputTokens, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, telemetry.ClassifyError(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
		attribute.String("llm.stop_reason", string(resp.StopReason)),
	)
	return resp, nil
}
