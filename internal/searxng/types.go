package searxng

import "strings"

// SearchResponse is the body of /search?format=json
type SearchResponse struct {
	Query           string         `json:"query"`
	NumberOfResults int            `json:"number_of_results"`
	Results         []SearchResult `json:"results"`
	// each entry is [engine, reason]
	Unresponsive [][]string `json:"unresponsive_engines"`
}

// SearchResult is one hit. Content is the engine's snippet.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Engine        string  `json:"engine"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"publishedDate,omitempty"`
}

// Label is the title, or the URL for untitled hits
func (r SearchResult) Label() string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	return r.URL
}

func (r SearchResponse) unresponsiveEngines() []string {
	names := make([]string, 0, len(r.Unresponsive))
	for _, e := range r.Unresponsive {
		if len(e) > 0 {
			names = append(names, e[0])
		}
	}
	return names
}
