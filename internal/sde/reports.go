package sde

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ReportInput creates an advanced report. Query is the report's cube query
// as JSON text.
type ReportInput struct {
	Title       string         `json:"title"`
	Chart       string         `json:"chart"`
	Query       string         `json:"query"`
	Description string         `json:"description,omitempty"`
	ChartMeta   map[string]any `json:"chart_meta,omitempty"`
	Type        string         `json:"type,omitempty"`
}

// ListAdvancedReports lists saved advanced reports.
func (c *Client) ListAdvancedReports(ctx context.Context) (any, error) {
	return c.Get(ctx, "reports/", nil)
}

// GetAdvancedReport fetches one advanced report definition.
func (c *Client) GetAdvancedReport(ctx context.Context, id int) (any, error) {
	return c.Get(ctx, fmt.Sprintf("reports/%d/", id), nil)
}

// RunAdvancedReport runs a saved report. An empty format leaves the server
// default.
func (c *Client) RunAdvancedReport(ctx context.Context, id int, format string) (any, error) {
	var v url.Values
	if format != "" {
		v = url.Values{"format": {format}}
	}
	return c.Get(ctx, fmt.Sprintf("reports/%d/run/", id), v)
}

// CreateAdvancedReport saves a new report.
func (c *Client) CreateAdvancedReport(ctx context.Context, in ReportInput) (any, error) {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return nil, errors.New("sde: report title is required")
	case strings.TrimSpace(in.Chart) == "":
		return nil, errors.New("sde: report chart is required")
	case strings.TrimSpace(in.Query) == "":
		return nil, errors.New("sde: report query is required")
	}
	return c.Post(ctx, "reports/", in)
}

// ExecuteCubeQuery runs an ad hoc cube query given as JSON text.
func (c *Client) ExecuteCubeQuery(ctx context.Context, query string) (any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(query), &obj); err != nil {
		return nil, fmt.Errorf("sde: cube query must be a JSON object: %w", err)
	}
	return c.Get(ctx, "cubejs-api/v1/load", url.Values{"query": {query}})
}
