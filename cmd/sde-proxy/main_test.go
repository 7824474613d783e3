package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/szaher/sde-mcp-proxy/internal/proxy"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"version", "serve", "ask", "tools", "check"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q missing", name)
		}
	}
	for _, flag := range []string{"config", "log-level", "verbose", "trace"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "sde-proxy version "+version) {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestPrintResponse(t *testing.T) {
	cmd := &cobra.Command{}
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err := printResponse(cmd, proxy.Response{Response: "3 projects found", Success: true, SessionID: "s-1"}, false)
	if err != nil {
		t.Fatalf("printResponse: %v", err)
	}
	if out.String() != "3 projects found\n" || !strings.Contains(errOut.String(), "s-1") {
		t.Errorf("stdout %q stderr %q", out.String(), errOut.String())
	}

	out.Reset()
	err = printResponse(cmd, proxy.Response{Response: "No tools available from MCP server", Error: "No tools available", SessionID: "s-2"}, true)
	if err == nil || err.Error() != "No tools available" {
		t.Fatalf("expected failure error, got %v", err)
	}
	if !strings.Contains(out.String(), `"success": false`) {
		t.Errorf("json output %q", out.String())
	}
}

func TestPrintCatalogue(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	printCatalogue(cmd, []tools.Descriptor{{
		Name:        "get_project",
		Description: "Get a project by ID\nReturns the full record.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"project_id": map[string]any{"type": "integer"}, "expand": map[string]any{"type": "string"}},
			"required":   []any{"project_id"},
		},
	}})

	text := out.String()
	if !strings.Contains(text, "get_project") || !strings.Contains(text, "project_id") || !strings.Contains(text, "expand?") {
		t.Errorf("unexpected table:\n%s", text)
	}
	if strings.Contains(text, "Returns the full record") {
		t.Error("only the first description line should be printed")
	}
	if !strings.Contains(text, "1 tools") {
		t.Errorf("missing count:\n%s", text)
	}
}
