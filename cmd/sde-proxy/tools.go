package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/cli"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool server's catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext()
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			catalogue, err := a.registry.Tools(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalogue)
			}
			printCatalogue(cmd, catalogue)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")
	return cmd
}

func printCatalogue(cmd *cobra.Command, catalogue []tools.Descriptor) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPARAMETERS\tDESCRIPTION")
	for _, d := range catalogue {
		var params []string
		for _, p := range d.Parameters() {
			name := p.Name
			if !p.Required {
				name += "?"
			}
			params = append(params, name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, strings.Join(params, ","), firstLine(d.Description))
	}
	_ = w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tools\n", len(catalogue))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
