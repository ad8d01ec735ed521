package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/panelsync/internal/model"
)

// HTTPClient implements PanelClient against the admin REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ PanelClient = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithRateLimit caps outgoing requests at rps per second with the given
// burst. Requests wait for a slot or for their context to end.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a client targeting baseURL (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Settings ---

func (c *HTTPClient) GetSettings(ctx context.Context) (*model.Settings, error) {
	var s model.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) UpdateSettings(ctx context.Context, s *model.Settings) (*model.Settings, error) {
	var out model.Settings
	if err := c.doJSON(ctx, http.MethodPut, "/api/settings", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Notifications ---

func (c *HTTPClient) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var items []model.Notification
	if err := c.doJSON(ctx, http.MethodGet, "/api/notifications", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) UnreadCount(ctx context.Context) (int, error) {
	var resp model.UnreadCount
	if err := c.doJSON(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *HTTPClient) MarkAllRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/notifications/mark-all-read", nil, nil)
}

// --- Dashboard ---

func (c *HTTPClient) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	var stats model.DashboardStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboard/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) RoleDistribution(ctx context.Context) ([]model.RoleShare, error) {
	var shares []model.RoleShare
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboard/role-distribution", nil, &shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (c *HTTPClient) UserGrowth(ctx context.Context) ([]model.GrowthPoint, error) {
	var points []model.GrowthPoint
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboard/user-growth", nil, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts a human-readable message from an error body. The
// API uses {"message": ...}; older endpoints use {"error": ...}.
func errorMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return strings.TrimSpace(string(body))
}
