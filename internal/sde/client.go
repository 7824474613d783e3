// Package sde is a client for the SD Elements REST API (v2).
//
// Responses are returned as decoded JSON (maps, slices and scalars) since the
// tool server relays them verbatim.
package sde

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Limits and defaults.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultRetryMax = 3
	maxResponseSize = 10 << 20
)

// AuthError reports a 401 or 403 response.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	if e.Status == http.StatusForbidden {
		return "access forbidden: check your permissions"
	}
	return "authentication failed: check your API key"
}

// NotFoundError reports a 404 response.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string { return "resource not found: " + e.URL }

// APIError reports any other response with status >= 400.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sde api error (status %d): %s", e.Status, e.Detail)
}

// Config configures a Client.
type Config struct {
	Host     string
	APIKey   string
	Timeout  time.Duration
	RetryMax int

	// HTTPClient replaces the transport client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one SD Elements instance. It is safe for concurrent use.
type Client struct {
	host   string
	base   *url.URL
	apiKey string
	client *retryablehttp.Client
}

// New builds a client. Host and APIKey are required.
func New(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errors.New("sde: host is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("sde: api key is required")
	}
	base, err := url.Parse(host + "/api/v2/")
	if err != nil {
		return nil, fmt.Errorf("sde: parse host: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("sde: host %q must be an http(s) URL", host)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	rc := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.CheckRetry = retryIdempotent
	// Hand the final response back so status mapping below applies.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{host: host, base: base, apiKey: cfg.APIKey, client: rc}, nil
}

// Host returns the instance URL without trailing slash.
func (c *Client) Host() string { return c.host }

// retryIdempotent retries transport failures and 5xx/429 responses, but
// never replays a request that may have created or changed state.
func retryIdempotent(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil {
		switch resp.Request.Method {
		case http.MethodPost, http.MethodPatch:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Do sends one request. endpoint is relative to /api/v2/. body, when not nil,
// is sent as JSON.
func (c *Client) Do(ctx context.Context, method, endpoint string, params url.Values, body any) (any, error) {
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("sde: invalid endpoint %q: %w", endpoint, err)
	}
	u := c.base.ResolveReference(ref)
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sde: encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("sde: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("sde: unable to connect to %s: %w", c.host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("sde: read response: %w", err)
	}
	if len(raw) > maxResponseSize {
		return nil, fmt.Errorf("sde: response from %s exceeds %d bytes", u.Path, maxResponseSize)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{URL: u.String()}
	case resp.StatusCode >= 400:
		return nil, &APIError{Status: resp.StatusCode, Detail: errorDetail(raw, resp.StatusCode)}
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"text": string(raw)}, nil
	}
	return out, nil
}

func errorDetail(raw []byte, status int) string {
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil {
		if d, ok := body["detail"].(string); ok && d != "" {
			return d
		}
		return fmt.Sprintf("HTTP %d", status)
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 500 {
		text = text[:500]
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return text
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (any, error) {
	return c.Do(ctx, http.MethodGet, endpoint, params, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (any, error) {
	return c.Do(ctx, http.MethodPost, endpoint, nil, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (any, error) {
	return c.Do(ctx, http.MethodPut, endpoint, nil, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (any, error) {
	return c.Do(ctx, http.MethodPatch, endpoint, nil, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string) (any, error) {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// APIRequest calls an arbitrary endpoint. Params are sent as query values;
// data is the JSON body for methods other than GET and DELETE.
func (c *Client) APIRequest(ctx context.Context, method, endpoint string, params, data map[string]any) (any, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case http.MethodGet, http.MethodDelete:
		return c.Do(ctx, method, endpoint, queryValues(params), nil)
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		var body any
		if data != nil {
			body = data
		}
		return c.Do(ctx, method, endpoint, queryValues(params), body)
	}
	return nil, fmt.Errorf("sde: unsupported method %q", method)
}

// TestConnection verifies the host and credentials by fetching the current
// user.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.CurrentUser(ctx)
	return err
}

func queryValues(params map[string]any) url.Values {
	if len(params) == 0 {
		return nil
	}
	v := url.Values{}
	for k, p := range params {
		switch x := p.(type) {
		case nil:
		case []any:
			for _, item := range x {
				v.Add(k, fmt.Sprint(item))
			}
		case float64:
			v.Set(k, formatNumber(x))
		default:
			v.Set(k, fmt.Sprint(x))
		}
	}
	return v
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(f)
}
