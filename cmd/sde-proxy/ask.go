package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
	"github.com/szaher/sde-mcp-proxy/internal/proxy"
)

func newAskCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one query through the proxy and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.proxy.Query(ctx, proxy.Request{
				Query:     strings.Join(args, " "),
				SessionID: sessionID,
			})
			return printResponse(cmd, resp, asJSON)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func printResponse(cmd *cobra.Command, resp proxy.Response, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, resp.Response)
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", resp.SessionID)
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}
