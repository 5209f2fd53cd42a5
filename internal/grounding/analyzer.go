// Package grounding decides when a query should be answered with web
// context and gathers that context for providers without native search.
package grounding

import (
	"fmt"
	"strings"
)

// Mode is the web-search setting of a session manager
type Mode string

const (
	ModeOff  Mode = "off"
	ModeOn   Mode = "on"
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeOn, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown web search mode %q (want off, on or auto)", s)
}

// Decision is the outcome of scoring a query
type Decision struct {
	NeedsSearch bool
	Score       int
	Reason      string
}

type rule struct {
	name     string
	weight   int
	keywords []string
}

// Analyzer scores queries by keyword class. Scores above threshold search.
type Analyzer struct {
	rules     []rule
	threshold int
}

// NewAnalyzer creates a query analyzer tuned for study questions
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		threshold: 40,
		rules: []rule{
			{"time-sensitive", 40, []string{
				"latest", "current", "today", "recent", "this year", "this month",
				"this week", "breaking", "news", "updated", "yesterday", "ongoing",
			}},
			{"factual", 30, []string{
				"who is", "who was", "when did", "when was", "where is", "how many",
				"how much", "population of", "price of", "statistics", "published",
			}},
			{"research", 20, []string{
				"compare", "best", "top", "review", "vs", "versus", "sources",
				"citation", "cite", "study shows", "research on",
			}},
			{"explanation", -30, []string{
				"explain", "how does", "how do", "why does", "why do", "concept of",
				"teach me", "what does", "define", "summarize", "example of",
			}},
			{"exercise", -40, []string{
				"solve", "calculate", "prove", "derive", "simplify", "equation",
				"homework", "translate", "essay", "code",
			}},
		},
	}
}

// Analyze decides whether query needs web search
func (a *Analyzer) Analyze(query string) Decision {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return Decision{Reason: "empty query"}
	}

	score := 0
	var reasons []string
	for _, r := range a.rules {
		if matchesAny(query, r.keywords) {
			score += r.weight
			reasons = append(reasons, r.name)
		}
	}

	reason := strings.Join(reasons, ", ")
	if reason == "" {
		reason = "general query"
	}
	return Decision{NeedsSearch: score > a.threshold, Score: score, Reason: reason}
}

// ShouldSearch resolves mode for a single query
func (a *Analyzer) ShouldSearch(mode Mode, query string) bool {
	switch mode {
	case ModeOn:
		return true
	case ModeAuto:
		return a.Analyze(query).NeedsSearch
	}
	return false
}

func matchesAny(query string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(query, p) {
			return true
		}
	}
	return false
}
