package format

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const maxListed = 10

// TemplateFormatter renders results with deterministic per-tool-family
// templates. It never fails.
type TemplateFormatter struct{}

// NewTemplate returns the template strategy.
func NewTemplate() *TemplateFormatter { return &TemplateFormatter{} }

func (f *TemplateFormatter) Name() string { return StrategyTemplate }

func (f *TemplateFormatter) Format(_ context.Context, in Input) (string, error) {
	return Render(in.Tool, in.Result), nil
}

// Render applies the template for tool's family to result.
func Render(tool string, result any) string {
	verb, noun := splitTool(tool)

	obj, isObj := result.(map[string]any)
	if isObj {
		if msg, failed := failure(obj); failed {
			switch verb {
			case "":
				return "Operation failed: " + msg
			case "list":
				return fmt.Sprintf("Failed to list %s: %s", noun.plural, msg)
			}
			return fmt.Sprintf("Failed to %s %s: %s", verb, noun.singular, msg)
		}
	}

	switch verb {
	case "list":
		if items, ok := listItems(result, noun); ok {
			return renderList(items, noun)
		}
	case "get":
		if isObj {
			if item := unwrap(obj, noun); item != nil {
				return renderDetails(item, noun)
			}
			if len(obj) == 0 {
				return fmt.Sprintf("%s not found.", capitalize(noun.singular))
			}
		}
	case "create", "add":
		if isObj {
			item := unwrap(obj, noun)
			if item == nil {
				item = obj
			}
			s := fmt.Sprintf("Successfully created %s%s", noun.singular, label(item))
			if url := text(item["url"]); url != "" {
				s += ". You can view it at: " + url
			}
			return s
		}
	case "update", "set", "commit":
		if isObj {
			item := unwrap(obj, noun)
			if item == nil {
				item = obj
			}
			return fmt.Sprintf("Successfully updated %s%s", noun.singular, label(item))
		}
	case "delete", "remove":
		return fmt.Sprintf("Successfully deleted %s.", noun.singular)
	}

	return generic(result)
}

type nounForm struct {
	singular string
	plural   string
	key      string
}

// splitTool turns "list_business_units" into ("list", business unit).
func splitTool(tool string) (string, nounForm) {
	verb, rest, ok := strings.Cut(tool, "_")
	if !ok || rest == "" {
		return "", nounForm{singular: "item", plural: "items"}
	}
	phrase := strings.ReplaceAll(rest, "_", " ")
	n := nounForm{plural: phrase, singular: phrase, key: rest}
	if strings.HasSuffix(phrase, "ies") {
		n.singular = strings.TrimSuffix(phrase, "ies") + "y"
	} else if strings.HasSuffix(phrase, "s") {
		n.singular = strings.TrimSuffix(phrase, "s")
	} else {
		n.plural = phrase + "s"
		n.key = rest + "s"
	}
	return verb, n
}

func failure(obj map[string]any) (string, bool) {
	if ok, present := obj["success"].(bool); present && !ok {
		if msg := errorMessage(obj); msg != "" {
			return msg, true
		}
		return "Unknown error", true
	}
	if _, present := obj["error"]; present {
		if msg := errorMessage(obj); msg != "" {
			return msg, true
		}
	}
	return "", false
}

func errorMessage(obj map[string]any) string {
	switch e := obj["error"].(type) {
	case string:
		return e
	case map[string]any:
		if m := text(e["message"]); m != "" {
			return m
		}
	}
	return text(obj["detail"])
}

func listItems(result any, noun nounForm) ([]any, bool) {
	switch v := result.(type) {
	case []any:
		return v, true
	case map[string]any:
		for _, k := range []string{"results", noun.key, lastWord(noun.key)} {
			if items, ok := v[k].([]any); ok {
				return items, true
			}
		}
	}
	return nil, false
}

func renderList(items []any, noun nounForm) string {
	if len(items) == 0 {
		return fmt.Sprintf("No %s found.", noun.plural)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s(s):\n", len(items), noun.singular)
	for i, item := range items {
		if i == maxListed {
			break
		}
		obj, ok := item.(map[string]any)
		if !ok {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, display(item))
			continue
		}
		fmt.Fprintf(&sb, "%d. %s (ID: %s)", i+1, orUnknown(text(obj["name"])), orUnknown(display(obj["id"])))
		if status := nameOf(obj["status"]); status != "" {
			sb.WriteString(" - " + status)
		}
		sb.WriteString("\n")
	}
	if len(items) > maxListed {
		fmt.Fprintf(&sb, "\n... and %d more %s.", len(items)-maxListed, noun.plural)
	}
	return strings.TrimSpace(sb.String())
}

func renderDetails(item map[string]any, noun nounForm) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (ID: %s)", capitalize(noun.singular), orUnknown(text(item["name"])), orUnknown(display(item["id"])))
	fields := []struct{ label, a, b string }{
		{"URL", "url", ""},
		{"Description", "description", ""},
		{"Status", "status", ""},
		{"Created", "created", "created_date"},
		{"Updated", "updated", "modified_date"},
		{"Profile", "profile", ""},
	}
	for _, f := range fields {
		v := nameOf(item[f.a])
		if v == "" && f.b != "" {
			v = nameOf(item[f.b])
		}
		if v != "" {
			fmt.Fprintf(&sb, "\n%s: %s", f.label, v)
		}
	}
	return sb.String()
}

// unwrap finds the item in either {"id": ...} or {"project": {...}} form.
func unwrap(obj map[string]any, noun nounForm) map[string]any {
	if _, ok := obj["id"]; ok {
		return obj
	}
	key := strings.ReplaceAll(noun.singular, " ", "_")
	if inner, ok := obj[key].(map[string]any); ok && len(inner) > 0 {
		return inner
	}
	if inner, ok := obj[lastWord(key)].(map[string]any); ok && len(inner) > 0 {
		return inner
	}
	return nil
}

func label(item map[string]any) string {
	name := text(item["name"])
	if name == "" {
		name = text(item["title"])
	}
	id := display(item["id"])
	switch {
	case name != "" && id != "":
		return fmt.Sprintf(" '%s' (ID: %s)", name, id)
	case name != "":
		return fmt.Sprintf(" '%s'", name)
	case id != "":
		return fmt.Sprintf(" (ID: %s)", id)
	}
	return ""
}

func generic(result any) string {
	obj, ok := result.(map[string]any)
	if !ok {
		if s, ok := result.(string); ok && s != "" {
			return s
		}
		return JSON(result)
	}
	if ok, present := obj["success"].(bool); present && ok {
		msg := text(obj["message"])
		if msg == "" {
			msg = "Operation completed successfully"
		}
		return msg
	}
	if len(obj) == 0 {
		return "Operation completed successfully"
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := obj[k].(type) {
		case map[string]any, []any:
			lines = append(lines, k+":\n"+JSON(v))
		default:
			lines = append(lines, k+": "+display(v))
		}
	}
	return strings.Join(lines, "\n")
}

func nameOf(v any) string {
	if m, ok := v.(map[string]any); ok {
		return text(m["name"])
	}
	return display(v)
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return JSON(t)
	}
	return fmt.Sprint(v)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lastWord(s string) string {
	if i := strings.LastIndexAny(s, "_ "); i >= 0 {
		return s[i+1:]
	}
	return s
}
