package sde

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DiagramInput creates a project diagram.
type DiagramInput struct {
	ProjectID int            `json:"project"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"diagram_data,omitempty"`
}

// DiagramUpdate changes a diagram. Empty fields are left untouched.
type DiagramUpdate struct {
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"diagram_data,omitempty"`
}

// ListProjectDiagrams lists the diagrams of one project.
func (c *Client) ListProjectDiagrams(ctx context.Context, projectID int) (any, error) {
	return c.Get(ctx, "project-diagrams/", url.Values{"project": {strconv.Itoa(projectID)}})
}

// GetDiagram fetches one diagram.
func (c *Client) GetDiagram(ctx context.Context, id int) (any, error) {
	return c.Get(ctx, fmt.Sprintf("project-diagrams/%d/", id), nil)
}

// CreateDiagram adds a diagram to a project.
func (c *Client) CreateDiagram(ctx context.Context, in DiagramInput) (any, error) {
	if in.ProjectID <= 0 {
		return nil, errors.New("sde: diagram project id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("sde: diagram name is required")
	}
	return c.Post(ctx, "project-diagrams/", in)
}

// UpdateDiagram patches a diagram.
func (c *Client) UpdateDiagram(ctx context.Context, id int, in DiagramUpdate) (any, error) {
	if in.Name == "" && len(in.Data) == 0 {
		return nil, ErrNoChanges
	}
	return c.Patch(ctx, fmt.Sprintf("project-diagrams/%d/", id), in)
}

// DeleteDiagram deletes a diagram.
func (c *Client) DeleteDiagram(ctx context.Context, id int) (any, error) {
	return c.Delete(ctx, fmt.Sprintf("project-diagrams/%d/", id))
}
