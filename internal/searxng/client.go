package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Client handles communication with SearXNG
type Client struct {
	baseURL    string
	userAgent  string
	maxResults int
	httpClient *http.Client
}

// NewClient creates a new SearXNG client
func NewClient(baseURL, userAgent string, maxResults int, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Search performs a web search and returns the top results by score,
// skipping entries without a URL and repeated URLs
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	fullURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("SearXNG returned 403 Forbidden. JSON API may not be enabled. Check settings.yml for 'formats: [html, json]'")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SearXNG returned status %d: %s", resp.StatusCode, string(body))
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	if len(searchResp.Results) == 0 && len(searchResp.Unresponsive) > 0 {
		return nil, fmt.Errorf("no results, unresponsive engines: %s", strings.Join(searchResp.unresponsiveEngines(), ", "))
	}

	sort.SliceStable(searchResp.Results, func(i, j int) bool {
		return searchResp.Results[i].Score > searchResp.Results[j].Score
	})

	seen := make(map[string]bool)
	results := make([]SearchResult, 0, c.maxResults)
	for _, r := range searchResp.Results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		results = append(results, r)
		if len(results) == c.maxResults {
			break
		}
	}
	return results, nil
}

// HealthCheck verifies that SearXNG is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	testURL := fmt.Sprintf("%s/search?q=test&format=json", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", testURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SearXNG is unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("SearXNG API access forbidden. Check settings.yml to enable JSON format")
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("SearXNG returned server error: %d", resp.StatusCode)
	}
	return nil
}
