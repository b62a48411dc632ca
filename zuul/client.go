// ABOUTME: Weeder export fetching with a time-bounded cache; the export is large
// ABOUTME: and changes rarely, so one copy serves many analyses.
package zuul

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client fetches and caches the weeder export from a Software Factory
// deployment. Safe for concurrent use.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	TTL     time.Duration

	mu        sync.Mutex
	info      *Info
	fetchedAt time.Time
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		TTL:     24 * time.Hour,
	}
}

// Info returns the decoded export, refreshing it when the cached copy is
// older than TTL. Concurrent callers share one fetch.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info != nil && time.Since(c.fetchedAt) < c.TTL {
		return c.info, nil
	}

	raw, err := c.fetchExport(ctx)
	if err != nil {
		// Serve a stale copy over failing the enrichment outright.
		if c.info != nil {
			return c.info, nil
		}
		return nil, err
	}
	info, err := DecodeExport(raw)
	if err != nil {
		return nil, err
	}
	c.info = info
	c.fetchedAt = time.Now()
	return info, nil
}

func (c *Client) fetchExport(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/weeder/export", nil)
	if err != nil {
		return nil, fmt.Errorf("weeder export request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weeder export: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("weeder export: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weeder export returned %d", resp.StatusCode)
	}
	return body, nil
}
