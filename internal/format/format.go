// Package format renders tool results as natural-language text.
//
// Strategies implement Formatter and are combined with a Chain, which tries
// each in order and falls back to pretty-printed JSON, so formatting never
// fails once a tool has produced a result.
package format

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/telemetry"
)

// Strategy names accepted by New.
const (
	StrategyLLM      = "llm"
	StrategyTemplate = "template"
)

// Input is everything a strategy may use to render a result.
type Input struct {
	Tool    string
	Query   string
	Result  any
	History []session.Turn
}

// Formatter renders one tool result.
type Formatter interface {
	Name() string
	Format(ctx context.Context, in Input) (string, error)
}

// Error records a failed strategy. Chain logs it and moves on.
type Error struct {
	Strategy string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s formatter: %v", e.Strategy, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Chain tries strategies in order and returns the first success.
type Chain struct {
	strategies []Formatter
	logger     *slog.Logger
}

// NewChain builds a chain. A nil logger uses slog.Default.
func NewChain(logger *slog.Logger, strategies ...Formatter) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Name lists the chained strategies.
func (c *Chain) Name() string {
	name := "chain"
	for i, s := range c.strategies {
		if i == 0 {
			name += ":"
		} else {
			name += ">"
		}
		name += s.Name()
	}
	return name
}

// Format never returns an error.
func (c *Chain) Format(ctx context.Context, in Input) (string, error) {
	for _, s := range c.strategies {
		text, err := s.Format(ctx, in)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = fmt.Errorf("empty output")
		}
		c.logger.Warn("formatter failed, falling back",
			"strategy", s.Name(),
			"tool", in.Tool,
			"error_type", telemetry.ClassifyError(err),
			"error", err,
		)
	}
	return JSON(in.Result), nil
}

// JSON pretty-prints v, or falls back to %v for values JSON cannot encode.
func JSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Options configures the strategies built by New.
type Options struct {
	Client    llm.Client
	Model     string
	Timeout   time.Duration
	MaxTokens int
	Logger    *slog.Logger
}

// New builds the chain for a configured strategy: "llm" tries the model and
// then templates, "template" uses templates only.
func New(strategy string, opts Options) (*Chain, error) {
	switch strategy {
	case StrategyLLM, "":
		if opts.Client == nil {
			return nil, fmt.Errorf("llm formatter requires a completion client")
		}
		return NewChain(opts.Logger, NewLLM(opts.Client, opts.Model, opts.Timeout, opts.MaxTokens), NewTemplate()), nil
	case StrategyTemplate:
		return NewChain(opts.Logger, NewTemplate()), nil
	}
	return nil, fmt.Errorf("unknown formatter strategy %q", strategy)
}
