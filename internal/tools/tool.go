// Package tools provides the proxy's view of the tool server: a cached
// catalogue of tool descriptors and an executor that invokes them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrServerUnreachable marks failures to reach the tool server.
var ErrServerUnreachable = errors.New("tool server unreachable")

// Descriptor describes one tool in the catalogue. InputSchema is a JSON
// Schema object in its decoded form.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Parameter is a flattened view of one top-level input property.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Parameters returns the schema's top-level properties sorted by name, with
// required ones first.
func (d Descriptor) Parameters() []Parameter {
	props, _ := d.InputSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	required := make(map[string]bool)
	switch req := d.InputSchema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	params := make([]Parameter, 0, len(props))
	for name, raw := range props {
		p := Parameter{Name: name, Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			p.Type = schemaType(prop)
			p.Description, _ = prop["description"].(string)
			if enum, ok := prop["enum"].([]any); ok {
				for _, v := range enum {
					p.Enum = append(p.Enum, fmt.Sprint(v))
				}
			}
		}
		params = append(params, p)
	}

	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params
}

func schemaType(prop map[string]any) string {
	switch t := prop["type"].(type) {
	case string:
		if t == "array" {
			if items, ok := prop["items"].(map[string]any); ok {
				if it := schemaType(items); it != "" {
					return it + "[]"
				}
			}
		}
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	}
	return ""
}

// Invocation is a tool name plus its argument object.
type Invocation struct {
	Tool      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Source is the tool server as seen by the registry and executor.
type Source interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// UnknownToolError is returned when an invocation names a tool absent from
// the current catalogue.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ExecutionError wraps any downstream failure of a tool call.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
