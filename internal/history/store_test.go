package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"study-chat/internal/conversation"
	"study-chat/internal/storage"
)

func sample(t *testing.T, query string, updatedAt int64) conversation.Conversation {
	t.Helper()
	c := conversation.New(time.UnixMilli(updatedAt))
	require.NoError(t, c.AppendCompleted(query, "answer to "+query))
	c.UpdatedAtUnixMs = updatedAt
	return c.Clone()
}

type failingKV struct {
	storage.KeyValueStore
}

func (failingKV) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestLoadMissingIsEmpty(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), 0, zaptest.NewLogger(t))
	assert.Empty(t, s.Load(context.Background()))
}

func TestLoadDiscardsCorruptData(t *testing.T) {
	for name, blob := range map[string]string{
		"not json":  `{{{`,
		"not array": `{"id":"x"}`,
		"bad array": `[{"id":"x",`,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := storage.NewMemoryStore()
			require.NoError(t, kv.Set(ctx, Key, []byte(blob)))

			s := NewStore(kv, 0, zaptest.NewLogger(t))
			assert.Empty(t, s.Load(ctx))

			_, err := kv.Get(ctx, Key)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestLoadDropsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	good := sample(t, "kept", 20)
	older := sample(t, "older", 10)
	empty := conversation.New(time.Now()).Clone()
	dup := good
	dup.Title = "duplicate"
	loading := sample(t, "loading", 5)
	loading.Interactions[0].IsLoading = true

	blob, err := json.Marshal([]any{older, good, empty, dup, map[string]any{"title": "no id"}, "junk", loading})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, Key, blob))

	got := NewStore(kv, 0, zaptest.NewLogger(t)).Load(ctx)
	require.Len(t, got, 3)
	assert.Equal(t, good.ID, got[0].ID)
	assert.NotEqual(t, "duplicate", got[0].Title)
	assert.Equal(t, older.ID, got[1].ID)
	assert.False(t, got[2].Interactions[0].IsLoading)
}

func TestUpsertReplacesAndPrepends(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := NewStore(kv, 0, zaptest.NewLogger(t))

	a := sample(t, "a", 10)
	b := sample(t, "b", 20)
	require.NoError(t, s.Upsert(ctx, a))
	require.NoError(t, s.Upsert(ctx, b))
	assert.Equal(t, []string{b.ID, a.ID}, ids(s.List()))

	a.Title = "renamed"
	a.UpdatedAtUnixMs = 30
	require.NoError(t, s.Upsert(ctx, a))
	require.NoError(t, s.Upsert(ctx, a))

	list := s.List()
	assert.Equal(t, []string{a.ID, b.ID}, ids(list))
	assert.Equal(t, "renamed", list[0].Title)

	reloaded := NewStore(kv, 0, zaptest.NewLogger(t)).Load(ctx)
	assert.Equal(t, ids(list), ids(reloaded))
}

func TestUpsertRejectsEmpty(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), 0, zaptest.NewLogger(t))
	err := s.Upsert(context.Background(), conversation.New(time.Now()).Clone())
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, s.List())
}

func TestUpsertNeverPersistsLoading(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), 0, zaptest.NewLogger(t))
	c := conversation.New(time.Now())
	idx, _ := c.Begin("q", "")
	require.NoError(t, c.AppendDelta(idx, "half"))

	require.NoError(t, s.Upsert(context.Background(), c.Clone()))
	got, ok := s.Get(c.ID)
	require.True(t, ok)
	assert.False(t, got.Interactions[0].IsLoading)
	assert.Equal(t, "half", got.Interactions[0].Response)
	assert.True(t, c.Loading(), "caller's copy is untouched")
}

func TestUpsertPrunesOldest(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), 2, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Upsert(ctx, sample(t, fmt.Sprint(i), int64(i))))
	}
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].Interactions[0].Query)
	assert.Equal(t, "2", list[1].Interactions[0].Query)
}

func TestWriteFailureKeepsMemoryState(t *testing.T) {
	s := NewStore(failingKV{storage.NewMemoryStore()}, 0, zaptest.NewLogger(t))
	c := sample(t, "q", 1)

	err := s.Upsert(context.Background(), c)
	require.Error(t, err)
	_, ok := s.Get(c.ID)
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStore(), 0, zaptest.NewLogger(t))
	a, b := sample(t, "a", 1), sample(t, "b", 2)
	require.NoError(t, s.Upsert(ctx, a))
	require.NoError(t, s.Upsert(ctx, b))
	before := s.Version()

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.Equal(t, []string{b.ID}, ids(s.List()))
	assert.Greater(t, s.Version(), before)
}
