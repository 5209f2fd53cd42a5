package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Page is the result of crawling a single URL
type Page struct {
	URL      string
	Title    string
	Content  string
	Err      error
	Duration time.Duration
}

// Crawler fetches pages and extracts their readable text
type Crawler struct {
	httpClient *http.Client
	maxSize    int64
	maxWords   int
	userAgent  string
	maxWorkers int
}

// NewCrawler creates a new crawler instance
func NewCrawler(timeout time.Duration, maxWorkers int, maxSize int64, userAgent string) *Crawler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Crawler{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxSize:    maxSize,
		maxWords:   500,
		userAgent:  userAgent,
		maxWorkers: maxWorkers,
	}
}

// Crawl fetches urls concurrently. Pages are returned in the order of urls.
func (c *Crawler) Crawl(ctx context.Context, urls []string) []Page {
	pages := make([]Page, len(urls))
	p := pool.New().WithMaxGoroutines(c.maxWorkers)
	for i, u := range urls {
		p.Go(func() {
			pages[i] = c.fetch(ctx, u)
		})
	}
	p.Wait()
	return pages
}

func (c *Crawler) fetch(ctx context.Context, urlStr string) Page {
	start := time.Now()
	page := Page{URL: urlStr}
	page.Title, page.Content, page.Err = c.fetchText(ctx, urlStr)
	page.Duration = time.Since(start)
	return page
}

func (c *Crawler) fetchText(ctx context.Context, urlStr string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return "", "", fmt.Errorf("non-HTML content type: %s", contentType)
	}

	body, err := ReadLimitedBody(resp.Body, c.maxSize)
	if err != nil {
		return "", "", fmt.Errorf("failed to read body: %w", err)
	}

	title, text, err := ExtractText(body, c.maxWords)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract text: %w", err)
	}
	return title, text, nil
}
