// Package supabase implements the store contracts against a Supabase
// project's PostgREST endpoint.
package supabase

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

	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultBackoff  = 100 * time.Millisecond
	defaultRetries  = 3
	uniqueViolation = "23505"
)

// Client talks to /rest/v1 with the project's API key.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
	backoff    time.Duration
	maxRetries uint64
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRetry sets the base delay and retry count applied to reads.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.backoff = base
		c.maxRetries = maxRetries
	}
}

// New validates the project URL and returns a client for it.
func New(baseURL, key string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("supabase url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", baseURL)
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("supabase key is required")
	}

	c := &Client{
		baseURL:    trimmed,
		key:        strings.TrimSpace(key),
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    defaultBackoff,
		maxRetries: defaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx PostgREST response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("supabase request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase request failed (%d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase request failed (%d): %s", e.Status, e.Message)
}

func (e *APIError) temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type request struct {
	method string
	table  string
	query  url.Values
	body   any
	prefer string
}

func (c *Client) do(ctx context.Context, r request, v any) error {
	endpoint := c.baseURL + "/rest/v1/" + r.table
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get retries transport failures and temporary statuses. Writes go
// through do directly and are never retried.
func (c *Client) get(ctx context.Context, table string, query url.Values, v any) error {
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.do(ctx, request{method: http.MethodGet, table: table, query: query}, v)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// opaqueID accepts both JSON strings and numbers; projects created from
// the dashboard often use integer primary keys.
type opaqueID string

func (id *opaqueID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = opaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = opaqueID(n.String())
	return nil
}
