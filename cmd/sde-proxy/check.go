package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and probe the tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration: ok\nsession backend: %s\n", a.cfg.Session.Backend)
			if err := a.mcp.Connect(ctx); err != nil {
				return fmt.Errorf("tool server %s: %w", a.cfg.ToolServer.URL, err)
			}
			catalogue, err := a.registry.Tools(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "tool server: connected (%d tools)\n", len(catalogue))
			return nil
		},
	}
}
