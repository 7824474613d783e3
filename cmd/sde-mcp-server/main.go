// Package main runs the SD Elements MCP tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
	"github.com/szaher/sde-mcp-proxy/internal/config"
	"github.com/szaher/sde-mcp-proxy/internal/sde"
	"github.com/szaher/sde-mcp-proxy/internal/toolserver"
)

// Version information set at build time.
var version = "0.1.0"

var flags cli.Flags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sde-mcp-server",
		Short:         "MCP server exposing the SD Elements API as tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.Register(root)

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sde-mcp-server version %s\n", version)
		},
	})
	return root
}

func newAPI(ctx context.Context) (*sde.Client, config.Config, *slog.Logger, error) {
	cfg, err := flags.Load(ctx)
	if err != nil {
		return nil, cfg, nil, err
	}
	if err := cfg.ValidateToolServer(); err != nil {
		return nil, cfg, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, _, err := cli.NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, cfg, nil, err
	}
	slog.SetDefault(logger)

	api, err := sde.New(sde.Config{
		Host:     cfg.SDE.Host,
		APIKey:   cfg.SDE.APIKey,
		Timeout:  cfg.SDE.Timeout,
		RetryMax: cfg.SDE.RetryMax,
	})
	if err != nil {
		return nil, cfg, nil, err
	}
	return api, cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over stdio or streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			api, _, logger, err := newAPI(ctx)
			if err != nil {
				return err
			}
			srv := toolserver.New(api, version, toolserver.WithLogger(logger))
			logger.Info("sde-mcp-server starting",
				"transport", transport,
				"sde_host", api.Host(),
				"tools", len(srv.ToolNames()),
			)

			switch transport {
			case "stdio":
				return srv.RunStdio(ctx)
			case "http", "streamable-http":
				return serveHTTP(ctx, srv, addr, logger)
			}
			return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "http", "Transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":8001", "Listen address for the http transport")
	return cmd
}

func serveHTTP(ctx context.Context, srv *toolserver.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("MCP endpoint listening", "addr", ln.Addr().String(), "path", "/mcp")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the SD Elements host and API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			api, _, _, err := newAPI(ctx)
			if err != nil {
				return err
			}
			if err := api.TestConnection(ctx); err != nil {
				return fmt.Errorf("connection to %s failed: %w", api.Host(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", api.Host())
			return nil
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
