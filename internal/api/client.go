// Package api is the REST client for the fulfillment backend. The backend
// is the sole authority for session state; every method here is a single
// request with a client-side deadline and no automatic retry.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/logging"
)

const (
	// DefaultTimeout bounds ordinary requests.
	DefaultTimeout = 60 * time.Second

	// DefaultBulkTimeout bounds known bulk requests such as the dashboard
	// listing with completed sessions included.
	DefaultBulkTimeout = 180 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20

	// RequestIDHeader carries a per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// Client talks to the fulfillment REST API.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	timeout     time.Duration
	bulkTimeout time.Duration
	logger      *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request deadline for ordinary requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBulkTimeout sets the per-request deadline for bulk requests.
func WithBulkTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.bulkTimeout = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(l).WithComponent("api")
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("API base URL must be an absolute http(s) URL").
			WithField("server.base_url").
			WithValue(baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		httpClient:  &http.Client{},
		timeout:     DefaultTimeout,
		bulkTimeout: DefaultBulkTimeout,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckSession asks whether a session exists for an order and who holds it.
func (c *Client) CheckSession(ctx context.Context, orderNumber string) (*CheckResult, error) {
	var out CheckResult
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "session/check/" + url.PathEscape(orderNumber),
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = CheckNone
	}
	return &out, nil
}

// StartSession allocates a brand-new session for the caller.
func (c *Client) StartSession(ctx context.Context, orderNumber string, sessionType SessionType) (*Session, error) {
	var out Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "session/start",
		body: map[string]any{
			"order_number": orderNumber,
			"session_type": sessionType,
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimSession reactivates a draft for the caller and returns its id. The
// response does not carry the full session; callers re-fetch it.
func (c *Client) ClaimSession(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "sessions/" + url.PathEscape(sessionID) + "/claim",
		out:       &out,
		sessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return sessionID, nil
	}
	return out.SessionID, nil
}

// Scan records a scanned quantity. A response with success=false is
// returned as a ConflictError; overpicking is not an error.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	var out ScanResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "session/scan",
		body: map[string]any{
			"session_id": req.SessionID,
			"sku":        req.SKU,
			"quantity":   quantityJSON(req.Quantity),
			"field":      req.Field,
		},
		out:       &out,
		sessionID: req.SessionID,
	})
	if err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "scan rejected"
		}
		return nil, errors.NewConflictError(msg).WithCode("scan_rejected")
	}
	return &out, nil
}

// SessionStatus fetches the full authoritative session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "session/status/" + url.PathEscape(sessionID),
		out:       &out,
		sessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteSession finalizes a session. force skips the all-items-complete
// rule for admins.
func (c *Client) CompleteSession(ctx context.Context, sessionID string, force bool) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "session/complete",
		body: map[string]any{
			"session_id":     sessionID,
			"force_complete": force,
		},
		sessionID: sessionID,
	})
}

// CancelSession irreversibly cancels a session.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, request{
		method:    http.MethodDelete,
		path:      "session/" + url.PathEscape(sessionID),
		sessionID: sessionID,
	})
}

// DashboardSessions lists sessions for the fleet view. Including completed
// sessions is a bulk request with the longer deadline.
func (c *Client) DashboardSessions(ctx context.Context, includeCompleted bool) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("dashboard/sessions?include_completed=%t", includeCompleted),
		out:    &out,
		bulk:   includeCompleted,
	})
	if err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ForceCancel terminates a session regardless of its owner.
func (c *Client) ForceCancel(ctx context.Context, sessionID, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.do(ctx, request{
		method:    http.MethodPost,
		path:      "dashboard/sessions/" + url.PathEscape(sessionID) + "/force-cancel",
		body:      body,
		sessionID: sessionID,
	})
}

// ForceAssign hands a session to targetUser without the owner's consent.
func (c *Client) ForceAssign(ctx context.Context, sessionID, targetUser string) error {
	return c.do(ctx, request{
		method:    http.MethodPost,
		path:      "dashboard/sessions/" + url.PathEscape(sessionID) + "/force-assign",
		body:      map[string]any{"target_user_id": targetUser},
		sessionID: sessionID,
	})
}

// Takeover makes the caller the owner of a session.
func (c *Client) Takeover(ctx context.Context, sessionID string) (*TakeoverResult, error) {
	var out TakeoverResult
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "dashboard/sessions/" + url.PathEscape(sessionID) + "/takeover",
		out:       &out,
		sessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Release turns the caller's in-progress session back into a draft.
func (c *Client) Release(ctx context.Context, sessionID string) error {
	return c.do(ctx, request{
		method:    http.MethodPost,
		path:      "sessions/" + url.PathEscape(sessionID) + "/release",
		sessionID: sessionID,
	})
}

type request struct {
	method    string
	path      string
	body      any
	out       any
	bulk      bool
	sessionID string
}

func (c *Client) do(ctx context.Context, r request) error {
	op := r.method + " " + strings.SplitN(r.path, "?", 2)[0]
	timeout := c.timeout
	if r.bulk {
		timeout = c.bulkTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return errors.Wrapf(err, "encode %s", op)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, r.method, c.baseURL+"/"+r.path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s", op)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "request_id", requestID, "error", err)
		return requestError(ctx, op, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return requestError(ctx, op, timeout, err)
	}
	c.logger.Debug("request done",
		"op", op,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, data, r.sessionID)
	}
	if r.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, r.out); err != nil {
		return errors.NewTransportError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// requestError classifies a failure that produced no HTTP status.
func requestError(parent context.Context, op string, timeout time.Duration, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return errors.Wrap(errors.ErrCanceled, op)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.NewTimeoutError(op, timeout).WithCause(err)
	}
	return errors.NewTransportError(op, err)
}

// statusError maps a non-2xx answer onto the error taxonomy.
func statusError(op string, status int, body []byte, sessionID string) error {
	msg, code := decodeErrorBody(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewAuthError(status, msg)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return errors.NewConflictError(msg).WithCode(code).WithStatus(status)
	case status == http.StatusNotFound && sessionID != "":
		return errors.NewNotFoundError("session", sessionID).WithCause(errors.NewHTTPError(op, status, msg))
	default:
		return errors.NewHTTPError(op, status, msg)
	}
}

func decodeErrorBody(body []byte) (message, code string) {
	var payload struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncate(strings.TrimSpace(string(body)), maxErrorText), ""
	}
	message = payload.Error
	if message == "" {
		message = payload.Message
	}
	return message, payload.Code
}

// maxErrorText bounds how much of a non-JSON error body is kept.
const maxErrorText = 200

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

// quantityJSON renders d as a bare JSON number.
func quantityJSON(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
