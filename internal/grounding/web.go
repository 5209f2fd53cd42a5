package grounding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/crawler"
	"study-chat/internal/gateway"
	"study-chat/internal/searxng"
)

// Searcher finds candidate pages for a query
type Searcher interface {
	Search(ctx context.Context, query string) ([]searxng.SearchResult, error)
}

// Fetcher downloads pages and extracts their text
type Fetcher interface {
	Crawl(ctx context.Context, urls []string) []crawler.Page
}

// Web grounds queries with SearXNG results and crawled page text
type Web struct {
	search Searcher
	fetch  Fetcher
	logger *zap.Logger
}

var _ gateway.Grounder = (*Web)(nil)

// NewWeb creates a web grounder
func NewWeb(search Searcher, fetch Fetcher, logger *zap.Logger) *Web {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Web{search: search, fetch: fetch, logger: logger.Named("grounding")}
}

// Ground searches for query and crawls the hits. Sources list every
// successfully crawled page; pages that failed fall back to the search
// snippet in the context.
func (w *Web) Ground(ctx context.Context, query string) (gateway.Grounding, error) {
	results, err := w.search.Search(ctx, query)
	if err != nil {
		return gateway.Grounding{}, fmt.Errorf("web search: %w", err)
	}
	if len(results) == 0 {
		return gateway.Grounding{}, errors.New("web search returned no results")
	}

	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	pages := w.fetch.Crawl(ctx, urls)

	var sb strings.Builder
	sb.WriteString("# Web Search Results\n\n")
	sb.WriteString("The following information was retrieved from the web:\n\n")

	var sources []conversation.Source
	n := 0
	for i, r := range results {
		content, title := r.Content, r.Label()
		if i < len(pages) && pages[i].Err == nil && pages[i].Content != "" {
			content = pages[i].Content
			if pages[i].Title != "" {
				title = pages[i].Title
			}
		} else if i < len(pages) && pages[i].Err != nil {
			w.logger.Debug("crawl failed", zap.String("url", r.URL), zap.Error(pages[i].Err))
		}
		if content == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "## Source %d: %s\nURL: %s\n\n%s\n\n", n, title, r.URL, content)
		sources = append(sources, conversation.Source{URI: r.URL, Title: title})
	}

	if n == 0 {
		return gateway.Grounding{}, errors.New("no content gathered from web results")
	}
	return gateway.Grounding{Context: sb.String(), Sources: sources}, nil
}
