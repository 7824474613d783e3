// Package metadata derives salient facts from tool results for storage
// alongside a conversation turn.
package metadata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/szaher/sde-mcp-proxy/internal/expr"
)

const (
	maxListIDs   = 20
	maxErrorText = 200
)

var (
	selectedKeys   = []string{"selected", "answer_ids_used", "added", "ids_added"}
	deselectedKeys = []string{"deselected", "ids_removed", "removed"}
)

// Rule extracts one metadata key with an expression over the tool result.
// Tool is a path.Match glob on the tool name; an empty Tool matches all.
// When, if set, is a boolean guard evaluated before Expr.
type Rule struct {
	Tool string `yaml:"tool" json:"tool"`
	Key  string `yaml:"key" json:"key"`
	Expr string `yaml:"expr" json:"expr"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

type compiledRule struct {
	Rule
	program *expr.Program
	guard   *expr.Program
}

// Extractor applies the built-in heuristics followed by operator rules.
// It is safe for concurrent use.
type Extractor struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewExtractor compiles rules. Any invalid rule fails construction.
func NewExtractor(rules []Rule, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{logger: logger}
	for i, r := range rules {
		if r.Key == "" {
			return nil, fmt.Errorf("metadata rule %d: key is required", i)
		}
		if r.Tool != "" {
			if _, err := path.Match(r.Tool, ""); err != nil {
				return nil, fmt.Errorf("metadata rule %q: bad tool pattern %q: %w", r.Key, r.Tool, err)
			}
		}
		program, err := expr.Compile(r.Expr)
		if err != nil {
			return nil, fmt.Errorf("metadata rule %q: %w", r.Key, err)
		}
		cr := compiledRule{Rule: r, program: program}
		if r.When != "" {
			if cr.guard, err = expr.Compile(r.When); err != nil {
				return nil, fmt.Errorf("metadata rule %q when: %w", r.Key, err)
			}
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Extract never fails. Rule values override built-in keys of the same name.
func (e *Extractor) Extract(tool string, result any) map[string]any {
	result = normalize(result)
	out := extract(tool, result)
	if e == nil {
		return out
	}

	env := expr.Env{Tool: tool, Result: result}
	for _, r := range e.rules {
		if r.Tool != "" {
			if ok, _ := path.Match(r.Tool, tool); !ok {
				continue
			}
		}
		if r.guard != nil {
			if ok, err := r.guard.EvalBool(env); err != nil || !ok {
				continue
			}
		}
		v, err := r.program.Eval(env)
		if err != nil {
			e.logger.Debug("metadata rule skipped", "key", r.Key, "tool", tool, "error", err)
			continue
		}
		if v = normalize(v); v != nil {
			out[r.Key] = v
		}
	}
	return out
}

// Extract applies only the built-in heuristics.
func Extract(tool string, result any) map[string]any {
	return extract(tool, normalize(result))
}

func extract(tool string, result any) map[string]any {
	out := make(map[string]any)

	switch v := result.(type) {
	case []any:
		listFacts(out, v)
		return out
	case map[string]any:
		objectFacts(out, tool, v)
	}
	return out
}

func objectFacts(out map[string]any, tool string, obj map[string]any) {
	if msg, ok := errorText(obj); ok {
		out["error"] = msg
	}

	switch {
	case strings.HasPrefix(tool, "create_") || strings.HasPrefix(tool, "add_"):
		if id, ok := scalar(obj["id"]); ok {
			out["created_id"] = id
		}
		for _, k := range []string{"name", "title"} {
			if s, ok := obj[k].(string); ok && s != "" {
				out["created_name"] = s
				break
			}
		}
	case strings.HasPrefix(tool, "update_") || strings.HasPrefix(tool, "set_") || strings.HasPrefix(tool, "commit_"):
		if id, ok := scalar(obj["id"]); ok {
			out["updated_id"] = id
		}
		switch s := obj["status"].(type) {
		case string:
			out["status"] = s
		case map[string]any:
			if name, ok := s["name"].(string); ok {
				out["status"] = name
			}
		}
		if done, ok := obj["survey_complete"].(bool); ok {
			out["survey_complete"] = done
		}
	case strings.HasPrefix(tool, "delete_") || strings.HasPrefix(tool, "remove_"):
		out["deleted"] = true
		if id, ok := scalar(obj["id"]); ok {
			out["deleted_id"] = id
		}
	}

	if ids := collectIDs(obj, selectedKeys); len(ids) > 0 {
		out["selected_ids"] = ids
	}
	if ids := collectIDs(obj, deselectedKeys); len(ids) > 0 {
		out["deselected_ids"] = ids
	}

	if list, ok := obj["results"].([]any); ok {
		listFacts(out, list)
		if total, ok := obj["count"].(float64); ok {
			out["total_count"] = total
		}
	}

	// Generic identifiers and counters not claimed above.
	for k, v := range obj {
		switch {
		case k == "id" || strings.HasSuffix(k, "_id"):
			if id, ok := scalar(v); ok {
				setDefault(out, k, id)
			}
		case k == "count" || strings.HasSuffix(k, "_count"):
			if n, ok := v.(float64); ok {
				setDefault(out, k, n)
			}
		}
	}
}

func listFacts(out map[string]any, list []any) {
	out["count"] = float64(len(list))
	ids := make([]any, 0, min(len(list), maxListIDs))
	for _, item := range list {
		if len(ids) == maxListIDs {
			break
		}
		if obj, ok := item.(map[string]any); ok {
			if id, ok := scalar(obj["id"]); ok {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) > 0 {
		out["ids"] = ids
	}
}

func collectIDs(obj map[string]any, keys []string) []any {
	var ids []any
	for _, k := range keys {
		items, ok := obj[k].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if id, ok := scalar(item); ok {
				ids = append(ids, id)
				continue
			}
			if m, ok := item.(map[string]any); ok {
				if id, ok := scalar(m["id"]); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

func errorText(obj map[string]any) (string, bool) {
	var msg string
	switch v := obj["error"].(type) {
	case string:
		msg = v
	case map[string]any:
		msg, _ = v["message"].(string)
	}
	if msg == "" {
		msg, _ = obj["detail"].(string)
		if msg == "" {
			return "", false
		}
	}
	if len(msg) > maxErrorText {
		cut := maxErrorText
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg, true
}

// scalar accepts ids in the two shapes JSON gives them.
func scalar(v any) (any, bool) {
	switch v.(type) {
	case string, float64:
		return v, true
	}
	return nil, false
}

func setDefault(m map[string]any, k string, v any) {
	if _, ok := m[k]; !ok {
		m[k] = v
	}
}

// normalize reduces v to the types encoding/json produces so extracted
// values survive a session store round trip unchanged.
func normalize(v any) any {
	if isJSONNative(v) {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func isJSONNative(v any) bool {
	switch t := v.(type) {
	case nil, string, float64, bool:
		return true
	case map[string]any:
		for _, e := range t {
			if !isJSONNative(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range t {
			if !isJSONNative(e) {
				return false
			}
		}
		return true
	}
	return false
}
