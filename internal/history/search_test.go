package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"study-chat/internal/conversation"
	"study-chat/internal/storage"
)

type stubRanker struct {
	calls int
	ids   []string
	err   error
}

func (r *stubRanker) FindRelevant(context.Context, string, []conversation.Conversation) ([]string, error) {
	r.calls++
	return r.ids, r.err
}

func seeded(t *testing.T) (*Store, conversation.Conversation, conversation.Conversation) {
	t.Helper()
	s := NewStore(storage.NewMemoryStore(), 0, zaptest.NewLogger(t))
	physics := sample(t, "What is inertia?", 2)
	physics.Tags = []string{"physics"}
	bio := sample(t, "Explain photosynthesis", 1)
	bio.Title = "Photosynthesis basics"
	require.NoError(t, s.Upsert(context.Background(), physics))
	require.NoError(t, s.Upsert(context.Background(), bio))
	return s, physics, bio
}

func TestSearchBlankReturnsAll(t *testing.T) {
	s, physics, bio := seeded(t)
	r := &stubRanker{}
	got := NewSearcher(s, r, time.Minute, time.Second, nil).Search(context.Background(), "  ")
	assert.Equal(t, []string{physics.ID, bio.ID}, got)
	assert.Zero(t, r.calls)
}

func TestSearchFallsBackToSubstring(t *testing.T) {
	s, physics, _ := seeded(t)
	r := &stubRanker{err: errors.New("quota exceeded")}
	got := NewSearcher(s, r, time.Minute, time.Second, nil).Search(context.Background(), "physics")
	assert.Equal(t, []string{physics.ID}, got)
}

func TestSearchUsesRankerOrderAndFiltersUnknown(t *testing.T) {
	s, physics, bio := seeded(t)
	r := &stubRanker{ids: []string{bio.ID, "invented", physics.ID, bio.ID}}
	got := NewSearcher(s, r, time.Minute, time.Second, nil).Find(context.Background(), "science")
	require.Len(t, got, 2)
	assert.Equal(t, bio.ID, got[0].ID)
	assert.Equal(t, physics.ID, got[1].ID)
}

func TestSearchCachesPerHistoryVersion(t *testing.T) {
	s, physics, bio := seeded(t)
	r := &stubRanker{ids: []string{physics.ID}}
	searcher := NewSearcher(s, r, time.Minute, time.Second, nil)
	ctx := context.Background()

	searcher.Search(ctx, "Physics")
	searcher.Search(ctx, "physics ")
	assert.Equal(t, 1, r.calls)

	require.NoError(t, s.Delete(ctx, bio.ID))
	searcher.Search(ctx, "physics")
	assert.Equal(t, 2, r.calls)
}
