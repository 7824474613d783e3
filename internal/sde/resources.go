package sde

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListOptions are the paging and expansion parameters shared by list and
// get endpoints.
type ListOptions struct {
	PageSize int
	Include  string
	Expand   string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if o.Include != "" {
		v.Set("include", o.Include)
	}
	if o.Expand != "" {
		v.Set("expand", o.Expand)
	}
	return v
}

// ProjectInput creates a project.
type ProjectInput struct {
	Name          string `json:"name"`
	ApplicationID int    `json:"application"`
	Description   string `json:"description,omitempty"`
	PhaseID       int    `json:"phase,omitempty"`
	ProfileID     string `json:"profile,omitempty"`
}

// ProjectUpdate changes a project. Empty fields are left untouched.
type ProjectUpdate struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ApplicationInput creates an application.
type ApplicationInput struct {
	Name           string `json:"name"`
	BusinessUnitID int    `json:"business_unit"`
	Description    string `json:"description,omitempty"`
}

// ApplicationUpdate changes an application. Empty fields are left untouched.
type ApplicationUpdate struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ErrNoChanges is returned by updates that carry no fields.
var ErrNoChanges = errors.New("sde: no update data provided")

// ListProjects lists projects.
func (c *Client) ListProjects(ctx context.Context, opts ListOptions) (any, error) {
	return c.Get(ctx, "projects/", opts.values())
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id int, opts ListOptions) (any, error) {
	return c.Get(ctx, fmt.Sprintf("projects/%d/", id), opts.values())
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (any, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("sde: project name is required")
	}
	if in.ApplicationID <= 0 {
		return nil, errors.New("sde: project application id is required")
	}
	return c.Post(ctx, "projects/", in)
}

// UpdateProject patches a project.
func (c *Client) UpdateProject(ctx context.Context, id int, in ProjectUpdate) (any, error) {
	if in == (ProjectUpdate{}) {
		return nil, ErrNoChanges
	}
	return c.Patch(ctx, fmt.Sprintf("projects/%d/", id), in)
}

// DeleteProject deletes a project.
func (c *Client) DeleteProject(ctx context.Context, id int) (any, error) {
	return c.Delete(ctx, fmt.Sprintf("projects/%d/", id))
}

// ListApplications lists applications.
func (c *Client) ListApplications(ctx context.Context, opts ListOptions) (any, error) {
	return c.Get(ctx, "applications/", opts.values())
}

// GetApplication fetches one application.
func (c *Client) GetApplication(ctx context.Context, id int, opts ListOptions) (any, error) {
	return c.Get(ctx, fmt.Sprintf("applications/%d/", id), opts.values())
}

// CreateApplication creates an application.
func (c *Client) CreateApplication(ctx context.Context, in ApplicationInput) (any, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("sde: application name is required")
	}
	if in.BusinessUnitID <= 0 {
		return nil, errors.New("sde: application business unit id is required")
	}
	return c.Post(ctx, "applications/", in)
}

// UpdateApplication patches an application.
func (c *Client) UpdateApplication(ctx context.Context, id int, in ApplicationUpdate) (any, error) {
	if in == (ApplicationUpdate{}) {
		return nil, ErrNoChanges
	}
	return c.Patch(ctx, fmt.Sprintf("applications/%d/", id), in)
}

// ListBusinessUnits lists business units.
func (c *Client) ListBusinessUnits(ctx context.Context, opts ListOptions) (any, error) {
	return c.Get(ctx, "business-units/", opts.values())
}

// GetBusinessUnit fetches one business unit.
func (c *Client) GetBusinessUnit(ctx context.Context, id int) (any, error) {
	return c.Get(ctx, fmt.Sprintf("business-units/%d/", id), nil)
}

// ListUsers lists users.
func (c *Client) ListUsers(ctx context.Context, opts ListOptions) (any, error) {
	return c.Get(ctx, "users/", opts.values())
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id int) (any, error) {
	return c.Get(ctx, fmt.Sprintf("users/%d/", id), nil)
}

// CurrentUser fetches the user the API key belongs to.
func (c *Client) CurrentUser(ctx context.Context) (any, error) {
	return c.Get(ctx, "users/me/", nil)
}
