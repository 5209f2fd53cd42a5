package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"study-chat/internal/conversation"
)

// Ranker orders conversations by relevance to a search term
type Ranker interface {
	FindRelevant(ctx context.Context, term string, corpus []conversation.Conversation) ([]string, error)
}

// Searcher searches the history with the AI ranker, falling back to local
// substring matching when the ranker fails.
type Searcher struct {
	store   *Store
	ranker  Ranker
	cache   *cache.Cache
	timeout time.Duration
	logger  *zap.Logger
}

// NewSearcher creates a searcher; results are cached for ttl per history version
func NewSearcher(store *Store, ranker Ranker, ttl, timeout time.Duration, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{
		store:   store,
		ranker:  ranker,
		cache:   cache.New(ttl, 2*ttl),
		timeout: timeout,
		logger:  logger.Named("search"),
	}
}

// Search returns matching conversation ids, most relevant first
func (s *Searcher) Search(ctx context.Context, term string) []string {
	corpus := s.store.List()
	if strings.TrimSpace(term) == "" {
		return ids(corpus)
	}

	key := fmt.Sprintf("%d:%s", s.store.Version(), strings.ToLower(strings.TrimSpace(term)))
	if hit, ok := s.cache.Get(key); ok {
		return append([]string{}, hit.([]string)...)
	}

	result, err := s.rank(ctx, term, corpus)
	if err != nil {
		s.logger.Warn("relevance search failed, using substring match", zap.String("term", term), zap.Error(err))
		return SubstringMatch(term, corpus)
	}
	s.cache.SetDefault(key, result)
	return append([]string{}, result...)
}

// Find resolves Search results to conversations in relevance order
func (s *Searcher) Find(ctx context.Context, term string) []conversation.Conversation {
	matched := s.Search(ctx, term)
	out := make([]conversation.Conversation, 0, len(matched))
	for _, id := range matched {
		if c, ok := s.store.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Searcher) rank(ctx context.Context, term string, corpus []conversation.Conversation) ([]string, error) {
	if s.ranker == nil {
		return nil, fmt.Errorf("no ranker configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ranked, err := s.ranker.FindRelevant(ctx, term, corpus)
	if err != nil {
		return nil, err
	}

	// drop ids the ranker invented or repeated
	known := make(map[string]bool, len(corpus))
	for _, c := range corpus {
		known[c.ID] = true
	}
	out := make([]string, 0, len(ranked))
	for _, id := range ranked {
		if known[id] {
			out = append(out, id)
			delete(known, id)
		}
	}
	return out, nil
}

// SubstringMatch returns ids whose title, tags or queries contain term
func SubstringMatch(term string, corpus []conversation.Conversation) []string {
	out := []string{}
	for i := range corpus {
		if corpus[i].Matches(term) {
			out = append(out, corpus[i].ID)
		}
	}
	return out
}

func ids(list []conversation.Conversation) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = list[i].ID
	}
	return out
}
