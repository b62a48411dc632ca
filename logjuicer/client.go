// ABOUTME: HTTP client for a LogJuicer instance: request an errors report for a
// ABOUTME: build, poll until it is ready, download the JSON body.
package logjuicer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/pipeline"
)

// Client talks to a LogJuicer deployment under BaseURL. Report creation is
// idempotent on the LogJuicer side, so polling re-issues the creation call
// and reads the updated status from the response.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Poll    time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Poll:    2 * time.Second,
	}
}

// Fetch requests an errors report for the build and blocks until LogJuicer
// has produced it, then downloads the raw JSON body. The report page URL is
// emitted as a logjuicer_url event as soon as the report exists.
func (c *Client) Fetch(ctx context.Context, build string, emit pipeline.Emitter) (json.RawMessage, error) {
	announced := false
	waiting := false
	for {
		id, status, err := c.createReport(ctx, build)
		if err != nil {
			return nil, err
		}
		if !announced {
			emit.Emit(core.LogJuicerURL(fmt.Sprintf("%s/logjuicer/report/%d", c.BaseURL, id)))
			announced = true
		}

		switch status {
		case "Completed":
			return c.download(ctx, id)
		case "Pending":
			if !waiting {
				emit.Emit(core.Progress("Waiting for LogJuicer to process the build logs..."))
				waiting = true
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.Poll):
			}
		default:
			return nil, fmt.Errorf("logjuicer report for %s failed: %s", build, status)
		}
	}
}

// createReport asks LogJuicer for an errors report targeting the build URL.
// The response is a [id, status] pair; status is one of Pending, Completed,
// or an error description.
func (c *Client) createReport(ctx context.Context, build string) (int64, string, error) {
	target := fmt.Sprintf("%s/logjuicer/api/report/new?target=%s&errors=true",
		c.BaseURL, url.QueryEscape(build))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create report request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return 0, "", err
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil || len(pair) != 2 {
		return 0, "", fmt.Errorf("unexpected create report response: %s", body)
	}
	var id int64
	if err := json.Unmarshal(pair[0], &id); err != nil {
		return 0, "", fmt.Errorf("decode report id: %w", err)
	}
	var status string
	if err := json.Unmarshal(pair[1], &status); err != nil {
		return 0, "", fmt.Errorf("decode report status: %w", err)
	}
	return id, status, nil
}

func (c *Client) download(ctx context.Context, id int64) (json.RawMessage, error) {
	target := fmt.Sprintf("%s/logjuicer/api/report/%d/json", c.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("download report request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logjuicer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("logjuicer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logjuicer: %s returned %d: %s", req.URL.Path, resp.StatusCode, body)
	}
	return body, nil
}
