package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
	"github.com/szaher/sde-mcp-proxy/internal/config"
	"github.com/szaher/sde-mcp-proxy/internal/format"
	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/mcp"
	"github.com/szaher/sde-mcp-proxy/internal/metadata"
	"github.com/szaher/sde-mcp-proxy/internal/proxy"
	"github.com/szaher/sde-mcp-proxy/internal/secrets"
	"github.com/szaher/sde-mcp-proxy/internal/selector"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

// app is the fully wired proxy shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	sanitizer *secrets.Sanitizer

	mcp      *mcp.Client
	registry *tools.Registry
	store    session.Store
	proxy    *proxy.Orchestrator
}

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig(ctx context.Context) (config.Config, *slog.Logger, *secrets.Sanitizer, error) {
	cfg, err := flags.Load(ctx)
	if err != nil {
		return cfg, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, sanitizer, err := cli.NewLogger(cfg, os.Stderr)
	if err != nil {
		return cfg, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, sanitizer, nil
}

// newApp connects nothing eagerly except the session store; the tool server
// is dialled on first use.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, sanitizer, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(cfg.ToolServer,
		mcp.WithLogger(logger),
		mcp.WithImplementation("sde-proxy", version),
	)
	registry := tools.NewRegistry(client,
		tools.WithCatalogueTTL(cfg.Catalogue.TTL),
		tools.WithFetchTimeout(cfg.Catalogue.FetchTimeout),
		tools.WithLogger(logger),
	)
	executor := tools.NewExecutor(registry, client, cfg.Tools.CallTimeout, logger)

	creds := cfg.LLM.Credentials()
	selectionClient, selectionModel := llm.NewClientForModel(cfg.LLM.SelectionModel, creds)
	sel := selector.New(selectionClient, selectionModel,
		selector.WithTimeout(cfg.LLM.SelectionTimeout),
		selector.WithMaxTokens(cfg.LLM.SelectionMaxTokens),
	)

	opts := format.Options{
		Timeout:   cfg.LLM.FormattingTimeout,
		MaxTokens: cfg.LLM.FormattingMaxTokens,
		Logger:    logger,
	}
	if cfg.Formatter.Strategy != format.StrategyTemplate {
		opts.Client, opts.Model = llm.NewClientForModel(cfg.LLM.Model, creds)
	}
	formatter, err := format.New(cfg.Formatter.Strategy, opts)
	if err != nil {
		return nil, err
	}

	extractor, err := metadata.NewExtractor(cfg.Metadata.Rules, logger)
	if err != nil {
		return nil, err
	}

	store, err := session.Open(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	orchestrator, err := proxy.New(proxy.Deps{
		Store:     store,
		Catalogue: registry,
		Selector:  sel,
		Executor:  executor,
		Formatter: formatter,
		Extractor: extractor,
	},
		proxy.WithLogger(logger),
		proxy.WithSanitizer(sanitizer),
		proxy.WithBackendLabel(cfg.Session.Backend),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("proxy wired",
		"tool_server", cfg.ToolServer.URL,
		"selection_model", cfg.LLM.SelectionModel,
		"formatter", formatter.Name(),
		"session_backend", cfg.Session.Backend,
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		sanitizer: sanitizer,
		mcp:       client,
		registry:  registry,
		store:     store,
		proxy:     orchestrator,
	}, nil
}

func (a *app) Close() {
	if err := a.mcp.Close(); err != nil {
		a.logger.Debug("closing MCP session", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing session store", "error", err)
	}
}
