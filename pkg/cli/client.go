package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/getmockd/hookd/pkg/admin"
	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/httputil"
	"github.com/getmockd/hookd/pkg/requestlog"
)

// APIError represents an error response from the admin API.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// ListFilter narrows request and connection listings.
type ListFilter struct {
	Status     string
	Method     string
	PathPrefix string
	Limit      int
	Offset     int
}

// AdminClient talks to a running hookd admin API.
type AdminClient struct {
	baseURL string
	token   string
	client  *req.Client
}

// ClientOption configures an admin client.
type ClientOption func(*AdminClient)

// WithTimeout sets the HTTP timeout for the client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *AdminClient) { c.client.SetTimeout(timeout) }
}

// WithAPIKey authenticates every request with key. Both API keys and JWTs
// are sent as bearer tokens.
func WithAPIKey(key string) ClientOption {
	return func(c *AdminClient) {
		if key != "" {
			c.client.SetCommonBearerAuthToken(key)
		}
	}
}

// NewAdminClient creates a new admin API client.
// The baseURL should be the admin API base URL (e.g., "http://localhost:8081").
func NewAdminClient(baseURL string, opts ...ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &AdminClient{
		baseURL: baseURL,
		client: req.C().
			SetBaseURL(baseURL).
			SetUserAgent("hookd-cli/" + Version).
			SetTimeout(30 * time.Second).
			SetCommonErrorResult(&httputil.ErrorResponse{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newClient builds a client from the persistent flags.
func newClient() *AdminClient {
	return NewAdminClient(adminURL, WithAPIKey(apiKey))
}

// BaseURL returns the admin API base URL.
func (c *AdminClient) BaseURL() string { return c.baseURL }

// do executes r and converts error responses into *APIError.
func (c *AdminClient) do(r *req.Request, method, path string) error {
	resp, err := r.Send(method, path)
	if resp != nil && resp.Response != nil && resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if e, ok := resp.ErrorResult().(*httputil.ErrorResponse); ok && e != nil && e.Error != "" {
			apiErr.ErrorCode = e.Error
			apiErr.Message = e.Message
		}
		return apiErr
	}
	if err != nil {
		return fmt.Errorf("%s %s%s: %w", method, c.baseURL, path, err)
	}
	return nil
}

func (c *AdminClient) get(ctx context.Context, path string, out any) error {
	return c.do(c.client.R().SetContext(ctx).SetSuccessResult(out), http.MethodGet, path)
}

func (c *AdminClient) send(ctx context.Context, method, path string, body, out any) error {
	r := c.client.R().SetContext(ctx).SetBodyJsonMarshal(body)
	if out != nil {
		r.SetSuccessResult(out)
	}
	return c.do(r, method, path)
}

func (c *AdminClient) delete(ctx context.Context, path string) error {
	return c.do(c.client.R().SetContext(ctx), http.MethodDelete, path)
}

// Health checks if the server is running.
func (c *AdminClient) Health(ctx context.Context) error {
	var out admin.HealthResponse
	return c.get(ctx, "/health", &out)
}

// Status returns the admin API's status summary.
func (c *AdminClient) Status(ctx context.Context) (*admin.StatusResponse, error) {
	var out admin.StatusResponse
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListHandlers returns all HTTP handlers in order.
func (c *AdminClient) ListHandlers(ctx context.Context) ([]*handler.Handler, error) {
	var out admin.HandlerListResponse
	if err := c.get(ctx, "/api/handlers", &out); err != nil {
		return nil, err
	}
	return out.Handlers, nil
}

// GetHandler returns one HTTP handler.
func (c *AdminClient) GetHandler(ctx context.Context, id string) (*handler.Handler, error) {
	var out handler.Handler
	if err := c.get(ctx, "/api/handlers/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveHandler creates h, or replaces it when a handler with h.ID exists.
func (c *AdminClient) SaveHandler(ctx context.Context, h *handler.Handler) (*handler.Handler, error) {
	var out handler.Handler
	if err := c.send(ctx, http.MethodPost, "/api/handlers", h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteHandler removes an HTTP handler.
func (c *AdminClient) DeleteHandler(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/handlers/"+url.PathEscape(id))
}

// ListTCPHandlers returns all TCP handlers.
func (c *AdminClient) ListTCPHandlers(ctx context.Context) ([]*handler.TCPHandler, error) {
	var out admin.TCPHandlerListResponse
	if err := c.get(ctx, "/api/tcp-handlers", &out); err != nil {
		return nil, err
	}
	return out.Handlers, nil
}

// GetTCPHandler returns one TCP handler.
func (c *AdminClient) GetTCPHandler(ctx context.Context, id string) (*handler.TCPHandler, error) {
	var out handler.TCPHandler
	if err := c.get(ctx, "/api/tcp-handlers/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveTCPHandler returns the TCP handler new data is dispatched to.
func (c *AdminClient) ActiveTCPHandler(ctx context.Context) (*handler.TCPHandler, error) {
	var out handler.TCPHandler
	if err := c.get(ctx, "/api/tcp-handlers/active", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveTCPHandler creates or replaces a TCP handler.
func (c *AdminClient) SaveTCPHandler(ctx context.Context, h *handler.TCPHandler) (*handler.TCPHandler, error) {
	var out handler.TCPHandler
	if err := c.send(ctx, http.MethodPost, "/api/tcp-handlers", h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTCPHandler removes a TCP handler.
func (c *AdminClient) DeleteTCPHandler(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/tcp-handlers/"+url.PathEscape(id))
}

func (f *ListFilter) query() string {
	if f == nil {
		return ""
	}
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Method != "" {
		q.Set("method", strings.ToUpper(f.Method))
	}
	if f.PathPrefix != "" {
		q.Set("path_prefix", f.PathPrefix)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListRequests returns captured requests, newest first.
func (c *AdminClient) ListRequests(ctx context.Context, f *ListFilter) ([]*requestlog.RequestEvent, error) {
	var out admin.RequestListResponse
	if err := c.get(ctx, "/api/requests"+f.query(), &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// GetRequest returns one captured request with its executions.
func (c *AdminClient) GetRequest(ctx context.Context, id string) (*requestlog.RequestEvent, error) {
	var out requestlog.RequestEvent
	if err := c.get(ctx, "/api/requests/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRequest removes a captured request.
func (c *AdminClient) DeleteRequest(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/requests/"+url.PathEscape(id))
}

// ListConnections returns captured TCP connections, newest first.
func (c *AdminClient) ListConnections(ctx context.Context, f *ListFilter) ([]*requestlog.TCPConnection, error) {
	var out admin.ConnectionListResponse
	if err := c.get(ctx, "/api/connections"+f.query(), &out); err != nil {
		return nil, err
	}
	return out.Connections, nil
}

// GetConnection returns one captured connection with its executions.
func (c *AdminClient) GetConnection(ctx context.Context, id string) (*requestlog.TCPConnection, error) {
	var out requestlog.TCPConnection
	if err := c.get(ctx, "/api/connections/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConnection removes a captured connection.
func (c *AdminClient) DeleteConnection(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/connections/"+url.PathEscape(id))
}

// GetState returns the shared state document.
func (c *AdminClient) GetState(ctx context.Context) (*admin.StateResponse, error) {
	var out admin.StateResponse
	if err := c.get(ctx, "/api/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryState evaluates a JSONPath expression against the shared state.
func (c *AdminClient) QueryState(ctx context.Context, path string) (*admin.StateQueryResponse, error) {
	var out admin.StateQueryResponse
	if err := c.get(ctx, "/api/state?path="+url.QueryEscape(path), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetState replaces the shared state document.
func (c *AdminClient) SetState(ctx context.Context, data map[string]any) (*admin.StateResponse, error) {
	var out admin.StateResponse
	if err := c.send(ctx, http.MethodPut, "/api/state", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// authHeader returns the headers a websocket dial needs to authenticate.
func (c *AdminClient) authHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// EventsURL returns the websocket URL of the event stream.
func (c *AdminClient) EventsURL(filter string) string {
	u := c.baseURL + "/api/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if filter != "" {
		u += "?filter=" + url.QueryEscape(filter)
	}
	return u
}
