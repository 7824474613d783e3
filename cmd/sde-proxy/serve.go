package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
	"github.com/szaher/sde-mcp-proxy/internal/server"
	"github.com/szaher/sde-mcp-proxy/internal/session"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if port > 0 {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Override server.port")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	shutdownTracing, err := cli.SetupTracing(a.cfg, "sde-proxy", version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("flushing spans", "error", err)
		}
	}()

	if purger, ok := a.store.(session.Purger); ok && a.cfg.Session.PurgeSchedule != "" {
		janitor, err := session.NewJanitor(purger, a.cfg.Session.PurgeSchedule, a.logger)
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	srv := server.New(a.cfg.Server, server.Deps{
		Querier:   a.proxy,
		Catalogue: a.registry,
		Sessions:  a.store,
		Probe:     a.mcp,
	},
		server.WithLogger(a.logger),
		server.WithVersion(version),
		server.WithInstance(a.cfg.SDE.Host, a.cfg.ToolServer.URL),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		// Warm the catalogue so the first query does not pay for the dial.
		if _, err := a.registry.Tools(gctx); err != nil && gctx.Err() == nil {
			a.logger.Warn("tool server not reachable at startup", "url", a.cfg.ToolServer.URL, "error", err)
		}
		return nil
	})

	a.logger.Info("sde-proxy listening", "addr", a.cfg.Server.Addr(), "version", version)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
