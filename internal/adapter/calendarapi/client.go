// Package calendarapi provides an HTTP client for the calendar sync service.
package calendarapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/resflow/toolplane/internal/port/calendar"
	"github.com/resflow/toolplane/internal/resilience"
)

// Client talks to the calendar sync service admin API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a calendar sync client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type resyncRequest struct {
	TenantSlug string `json:"tenantSlug"`
	Full       bool   `json:"full"`
}

// Resync asks the sync service to reconcile the tenant's calendars.
// A full resync replays the complete event history instead of the
// incremental window.
func (c *Client) Resync(ctx context.Context, tenantSlug string, full bool) (*calendar.ResyncReport, error) {
	body, err := json.Marshal(resyncRequest{TenantSlug: tenantSlug, Full: full})
	if err != nil {
		return nil, fmt.Errorf("marshal resync request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/resync", body)
	if err != nil {
		return nil, fmt.Errorf("resync %s: %w", tenantSlug, err)
	}

	var report calendar.ResyncReport
	if err := json.Unmarshal(resp, &report); err != nil {
		return nil, fmt.Errorf("unmarshal resync report: %w", err)
	}
	if report.TenantSlug == "" {
		report.TenantSlug = tenantSlug
	}
	return &report, nil
}

// Ping checks if the sync service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("calendar API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

var _ calendar.Client = (*Client)(nil)
