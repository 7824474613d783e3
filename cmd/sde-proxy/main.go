// Package main is the entry point for the sde-proxy service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
)

// Version information set at build time.
var version = "0.1.0"

var flags cli.Flags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sde-proxy",
		Short: "Natural-language proxy for the SD Elements MCP tool server",
		Long: `sde-proxy turns natural-language queries into SD Elements tool calls.
An LLM picks one tool from the MCP server's catalogue, the proxy runs it,
and the result is rendered back as text. Conversation history is kept
per session in the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.Register(root)

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newCheckCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
