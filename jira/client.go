// ABOUTME: Minimal JIRA search client: JQL queries over the REST API, constrained
// ABOUTME: to the configured projects.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vakwetu/rca-mcp/core"
)

// Client searches a JIRA server with a personal access token. Projects, when
// set, constrain every query to those projects.
type Client struct {
	BaseURL    string
	Token      string
	Projects   []string
	HTTP       *http.Client
	MaxResults int
}

func NewClient(baseURL, token string, projects []string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		Projects:   projects,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		MaxResults: 50,
	}
}

// Search runs a JQL query and returns the matching tickets.
func (c *Client) Search(ctx context.Context, query string) ([]core.JiraTicket, error) {
	jql := c.constrain(query)
	target := fmt.Sprintf("%s/rest/api/2/search?jql=%s&maxResults=%d&fields=summary",
		c.BaseURL, url.QueryEscape(jql), c.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("jira search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jira search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira search returned %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("jira search: decode response: %w", err)
	}

	tickets := make([]core.JiraTicket, 0, len(result.Issues))
	for _, issue := range result.Issues {
		tickets = append(tickets, core.JiraTicket{
			Key:     issue.Key,
			URL:     fmt.Sprintf("%s/browse/%s", c.BaseURL, issue.Key),
			Summary: issue.Fields.Summary,
		})
	}
	return tickets, nil
}

// constrain scopes a query to the configured projects.
func (c *Client) constrain(query string) string {
	switch len(c.Projects) {
	case 0:
		return query
	case 1:
		return fmt.Sprintf("project = %s AND (%s)", c.Projects[0], query)
	default:
		return fmt.Sprintf("project IN (%s) AND (%s)", strings.Join(c.Projects, ", "), query)
	}
}
