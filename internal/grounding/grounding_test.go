package grounding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"study-chat/internal/conversation"
	"study-chat/internal/crawler"
	"study-chat/internal/searxng"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" AUTO ")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	a := NewAnalyzer()

	d := a.Analyze("What is the latest news about who is leading the election")
	assert.True(t, d.NeedsSearch)
	assert.Equal(t, 70, d.Score)
	assert.Contains(t, d.Reason, "time-sensitive")

	assert.False(t, a.Analyze("Explain how does photosynthesis work").NeedsSearch)
	assert.False(t, a.Analyze("solve this equation for x").NeedsSearch)
	assert.Equal(t, "empty query", a.Analyze("  ").Reason)
	assert.Equal(t, "general query", a.Analyze("hello").Reason)
}

func TestShouldSearch(t *testing.T) {
	a := NewAnalyzer()
	assert.True(t, a.ShouldSearch(ModeOn, "explain"))
	assert.False(t, a.ShouldSearch(ModeOff, "latest news today"))
	assert.True(t, a.ShouldSearch(ModeAuto, "latest news today about who is winning"))
}

type fakeSearch struct {
	results []searxng.SearchResult
	err     error
}

func (f fakeSearch) Search(context.Context, string) ([]searxng.SearchResult, error) {
	return f.results, f.err
}

type fakeFetch []crawler.Page

func (f fakeFetch) Crawl(context.Context, []string) []crawler.Page { return f }

func TestGround(t *testing.T) {
	search := fakeSearch{results: []searxng.SearchResult{
		{Title: "A", URL: "https://a.example", Content: "snippet a"},
		{Title: "B", URL: "https://b.example", Content: "snippet b"},
		{Title: "C", URL: "https://c.example"},
	}}
	fetch := fakeFetch{
		{URL: "https://a.example", Title: "Page A", Content: "full text a"},
		{URL: "https://b.example", Err: errors.New("HTTP 500")},
		{URL: "https://c.example", Err: errors.New("timeout")},
	}

	g, err := NewWeb(search, fetch, zaptest.NewLogger(t)).Ground(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Source{
		{URI: "https://a.example", Title: "Page A"},
		{URI: "https://b.example", Title: "B"},
	}, g.Sources)
	assert.Contains(t, g.Context, "full text a")
	assert.Contains(t, g.Context, "snippet b")
	assert.NotContains(t, g.Context, "c.example")
}

func TestGroundErrors(t *testing.T) {
	_, err := NewWeb(fakeSearch{err: errors.New("down")}, fakeFetch{}, nil).Ground(context.Background(), "q")
	assert.ErrorContains(t, err, "down")

	_, err = NewWeb(fakeSearch{}, fakeFetch{}, nil).Ground(context.Background(), "q")
	assert.Error(t, err)
}
