package sde

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// CountermeasureFilter narrows ListCountermeasures.
type CountermeasureFilter struct {
	Status   string
	PageSize int
	// RiskRelevant defaults to true when nil.
	RiskRelevant *bool
}

// CountermeasureUpdate changes a countermeasure. Status may be a status id,
// name, slug or meaning; it is resolved to an id before sending.
type CountermeasureUpdate struct {
	Status     string
	StatusNote string
}

// UnknownStatusError is returned when a status cannot be resolved to an id.
type UnknownStatusError struct {
	Status    string
	Available []string
}

func (e *UnknownStatusError) Error() string {
	msg := fmt.Sprintf("could not resolve status %q to a status id", e.Status)
	if len(e.Available) > 0 {
		msg += "; available statuses: " + strings.Join(e.Available, ", ")
	}
	return msg
}

// NormalizeCountermeasureID expands "21" and "T21" to "<project>-T21". Ids
// already carrying the project prefix are returned unchanged.
func NormalizeCountermeasureID(projectID int, id string) string {
	id = strings.TrimSpace(id)
	prefix := strconv.Itoa(projectID) + "-"
	if strings.HasPrefix(id, prefix) {
		return id
	}
	if _, err := strconv.Atoi(id); err == nil {
		id = "T" + id
	}
	return prefix + id
}

func riskRelevant(v *bool) string {
	if v == nil || *v {
		return "true"
	}
	return "false"
}

// ListCountermeasures lists a project's countermeasures.
func (c *Client) ListCountermeasures(ctx context.Context, projectID int, f CountermeasureFilter) (any, error) {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", f.Status)
	}
	if f.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(f.PageSize))
	}
	v.Set("risk_relevant", riskRelevant(f.RiskRelevant))
	return c.Get(ctx, fmt.Sprintf("projects/%d/tasks/", projectID), v)
}

// GetCountermeasure fetches one countermeasure.
func (c *Client) GetCountermeasure(ctx context.Context, projectID int, id string, relevant *bool) (any, error) {
	v := url.Values{"risk_relevant": {riskRelevant(relevant)}}
	return c.Get(ctx, c.taskPath(projectID, id), v)
}

// UpdateCountermeasure changes status and/or status note.
func (c *Client) UpdateCountermeasure(ctx context.Context, projectID int, id string, in CountermeasureUpdate) (any, error) {
	body := map[string]any{}
	if in.Status != "" {
		statusID, err := c.ResolveStatus(ctx, in.Status)
		if err != nil {
			return nil, err
		}
		body["status"] = statusID
	}
	if in.StatusNote != "" {
		body["status_note"] = in.StatusNote
	}
	if len(body) == 0 {
		return nil, ErrNoChanges
	}
	return c.Patch(ctx, c.taskPath(projectID, id), body)
}

// AddCountermeasureNote attaches a note to a countermeasure.
func (c *Client) AddCountermeasureNote(ctx context.Context, projectID int, id, note string) (any, error) {
	if strings.TrimSpace(note) == "" {
		return nil, errors.New("sde: note text is required")
	}
	return c.Post(ctx, c.taskPath(projectID, id)+"notes/", map[string]any{"text": note})
}

// TaskStatusChoices lists the statuses a countermeasure may take.
func (c *Client) TaskStatusChoices(ctx context.Context) (any, error) {
	return c.Get(ctx, "task-statuses/", nil)
}

func (c *Client) taskPath(projectID int, id string) string {
	return fmt.Sprintf("projects/%d/tasks/%s/", projectID, url.PathEscape(NormalizeCountermeasureID(projectID, id)))
}

type statusChoice struct {
	id, name, slug, meaning string
}

// ResolveStatus maps a status name, slug or meaning to its id ("TS1").
// Exact matches win over prefix matches.
func (c *Client) ResolveStatus(ctx context.Context, status string) (string, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return "", errors.New("sde: status is empty")
	}

	res, err := c.TaskStatusChoices(ctx)
	if err != nil {
		return "", fmt.Errorf("sde: look up task statuses: %w", err)
	}
	choices := parseStatusChoices(res)
	if len(choices) == 0 {
		return status, nil
	}

	lower := strings.ToLower(status)
	for _, s := range choices {
		if strings.EqualFold(s.id, status) {
			return s.id, nil
		}
	}
	for _, s := range choices {
		if lower == strings.ToLower(s.name) || lower == strings.ToLower(s.slug) || lower == strings.ToLower(s.meaning) {
			return s.id, nil
		}
	}
	done := lower == "completed" || lower == "done" || lower == "finished"
	for _, s := range choices {
		name, slug, meaning := strings.ToLower(s.name), strings.ToLower(s.slug), strings.ToLower(s.meaning)
		if strings.HasPrefix(name, lower) || strings.HasPrefix(slug, lower) || strings.HasPrefix(meaning, lower) {
			return s.id, nil
		}
		if done && (strings.Contains(name, "complete") || strings.Contains(slug, "done")) {
			return s.id, nil
		}
	}

	names := make([]string, 0, len(choices))
	for _, s := range choices {
		if s.name != "" && len(names) < 10 {
			names = append(names, s.name)
		}
	}
	return "", &UnknownStatusError{Status: status, Available: names}
}

func parseStatusChoices(res any) []statusChoice {
	var items []any
	switch v := res.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, key := range []string{"status_choices", "results"} {
			if list, ok := v[key].([]any); ok {
				items = list
				break
			}
		}
	}

	out := make([]statusChoice, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := statusChoice{
			id:      str(obj["id"]),
			name:    str(obj["name"]),
			slug:    str(obj["slug"]),
			meaning: str(obj["meaning"]),
		}
		if s.id != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64:
		return formatNumber(x)
	}
	return fmt.Sprint(v)
}
