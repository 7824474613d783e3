// Package prompt renders the catalogue, history and instructions sent to the
// completion model for tool selection and response formatting.
package prompt

import (
	"fmt"
	"strings"

	"github.com/szaher/sde-mcp-proxy/internal/llm"
	"github.com/szaher/sde-mcp-proxy/internal/session"
	"github.com/szaher/sde-mcp-proxy/internal/tools"
)

// SelectionSystem instructs the model to pick exactly one tool.
const SelectionSystem = `You are a tool selector for SD Elements operations.
Given a user's natural language query, determine which tool should be called and with what arguments.

RULES:
1. Prefer retrieval tools (list_*, get_*) when the query says "list", "show", "get" or "find".
2. Only choose create_advanced_report or execute_cube_query when the query explicitly asks to create a report or run an analytics query; use run_advanced_report for a report that already exists.
3. For a single item referenced by id, prefer the get-by-id tool over a list tool.
4. Use the conversation history only to resolve references such as "that project", "those answers" or "the second one". Never let history override an explicit new request.
5. For create_project without an application, infer application_id from the history or the project name when you can; otherwise omit it.
6. Only provide arguments that are stated in the query or can be reasonably inferred. Do not invent values for required parameters.

Respond with ONLY a JSON object in this exact format:
{"tool_name": "name_of_tool", "arguments": {"arg1": "value1"}}

If no tool matches the query, respond with:
{"tool_name": null, "arguments": {}, "error": "why no tool matches"}`

// FormattingSystem instructs the model to render a tool result as prose.
const FormattingSystem = `You are a response formatter for SD Elements operations.
The conversation so far appears above. Use it to make answers contextual.

Guidelines:
- Be concise but informative.
- Highlight key information: IDs, names, URLs and status.
- For lists, give the count and key details for each item.
- For errors, explain plainly what went wrong.
- Format dates and timestamps readably.
- Reference earlier operations when relevant, e.g. "As mentioned earlier, 3 answers were deselected".
- When the query asks for items belonging to something named earlier in the conversation (for example "the second business unit"), filter the result to those items and say so when none match.

Respond with ONLY the formatted text, no additional commentary.`

// Catalogue renders descriptors as a compact listing of names, descriptions
// and typed parameters.
func Catalogue(descs []tools.Descriptor) string {
	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "- %s: %s", d.Name, oneLine(d.Description))
		params := d.Parameters()
		if len(params) == 0 {
			continue
		}
		sb.WriteString("\n  Parameters:")
		for _, p := range params {
			typ := p.Type
			if typ == "" {
				typ = "any"
			}
			fmt.Fprintf(&sb, "\n    - %s (%s)", p.Name, typ)
			if p.Required {
				sb.WriteString(" (required)")
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(&sb, " one of [%s]", strings.Join(p.Enum, ", "))
			}
			if p.Description != "" {
				fmt.Fprintf(&sb, ": %s", oneLine(p.Description))
			}
		}
	}
	return sb.String()
}

// History renders turns oldest first as alternating user and assistant
// messages.
func History(turns []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Query},
			llm.Message{Role: llm.RoleAssistant, Content: t.Response},
		)
	}
	return msgs
}

// Selection is the final user message of a selection request.
func Selection(catalogue, query string) string {
	return fmt.Sprintf("Available tools:\n%s\n\nUser query: %s\n\nRespond with JSON only:", catalogue, query)
}

// Formatting is the final user message of a formatting request.
func Formatting(tool, query, resultJSON string) string {
	return fmt.Sprintf("Tool: %s\nOriginal user query: %s\n\nTool result (JSON):\n%s\n\nFormat this result into natural language.",
		tool, query, resultJSON)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
