// Package client talks to the parish backend REST API. Client satisfies
// notification.API so it can feed a notification engine directly.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/recurrence"
)

const (
	component = "client"

	// DefaultTimeout applies when no http.Client is supplied.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

// Client is a thin JSON client for the notification and schedule endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New constructs a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("client: base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("client: invalid base url %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Default(c.logger)
	return c, nil
}

var _ notification.API = (*Client)(nil)

// List returns the caller's notifications, newest first.
func (c *Client) List(ctx context.Context) ([]notification.Notification, error) {
	var list []notification.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", &list); err != nil {
		return nil, err
	}
	return list, nil
}

type countResponse struct {
	Count int `json:"count"`
}

// UnreadCount returns the server-side unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var body countResponse
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil)
}

// MarkAllRead marks every notification of the caller read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil)
}

// ListSchedules returns the bookable schedules of the caller's church.
func (c *Client) ListSchedules(ctx context.Context) ([]recurrence.Schedule, error) {
	var schedules []recurrence.Schedule
	if err := c.do(ctx, http.MethodGet, "/schedules", &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	requestID := uuid.NewString()
	logger := logging.Scoped(ctx, c.logger, component, strings.ToLower(method)+" "+path, "request_id", requestID)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(method, path, resp); err != nil {
		logger.DebugContext(ctx, "request rejected", "status", resp.StatusCode, "error_kind", ErrorKind(err), "duration", time.Since(started))
		return err
	}
	logger.DebugContext(ctx, "request completed", "status", resp.StatusCode, "duration", time.Since(started))

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
}

func checkStatus(method, path string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}

	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Message = strings.TrimSpace(string(raw))
	}
	return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: body.Message}
}
