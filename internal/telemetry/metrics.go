// Package telemetry provides observability for the proxy: structured logging,
// Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sdeproxy"

// Package-level collectors, auto-registered with the default registry.
var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Natural-language queries handled, by outcome.",
		},
		[]string{"outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each query pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM API calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of LLM API calls.",
		},
		[]string{"provider", "status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by LLM calls.",
		},
		[]string{"provider", "direction"},
	)

	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total LLM errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool executions against the tool server.",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Duration of tool executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	catalogueFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "fetches_total",
			Help:      "Tool catalogue fetches from the tool server, by result.",
		},
		[]string{"result"},
	)

	sessionAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "appends_total",
			Help:      "Conversation turns appended, by backend and status.",
		},
		[]string{"backend", "status"},
	)
)

// RecordQuery counts a finished query by its terminal outcome.
func RecordQuery(outcome string) {
	queriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordLLMCall records duration, count, tokens and error type for one LLM call.
func RecordLLMCall(provider string, d time.Duration, inputTokens, outputTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
		llmErrorsTotal.WithLabelValues(provider, ClassifyError(err)).Inc()
	}

	llmCallDuration.WithLabelValues(provider, status).Observe(d.Seconds())
	llmCallsTotal.WithLabelValues(provider, status).Inc()

	if err == nil {
		llmTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
		llmTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall records one tool execution.
func RecordToolCall(tool, status string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordCatalogueFetch counts a catalogue fetch; result is "fresh", "stale" or "error".
func RecordCatalogueFetch(result string) {
	catalogueFetchesTotal.WithLabelValues(result).Inc()
}

// RecordSessionAppend counts a session append attempt.
func RecordSessionAppend(backend string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	sessionAppendsTotal.WithLabelValues(backend, status).Inc()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ClassifyError maps an error to a label-safe error type string so raw error
// messages never become label values.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "server error"):
		return "server"
	case strings.Contains(msg, "empty response"):
		return "empty_response"
	default:
		return "unknown"
	}
}
