package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
	"study-chat/internal/gateway/gatewaytest"
	"study-chat/internal/history"
	"study-chat/internal/storage"
)

func newSynchronizer(t *testing.T, g *gatewaytest.Fake) (*Synchronizer, *history.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := history.NewStore(storage.NewMemoryStore(), 0, logger)
	return New(store, g, logger), store
}

func conv(queries ...string) conversation.Conversation {
	c := conversation.New(time.UnixMilli(1000))
	for _, q := range queries {
		if err := c.AppendCompleted(q, "answer to "+q); err != nil {
			panic(err)
		}
	}
	return *c
}

func TestSynchronizeEmptyIsNoop(t *testing.T) {
	g := &gatewaytest.Fake{}
	s, store := newSynchronizer(t, g)

	_, ok := s.Synchronize(context.Background(), conv())
	assert.False(t, ok)
	assert.Empty(t, store.List())
	summaries, _ := g.Calls()
	assert.Zero(t, summaries)
}

func TestSynchronizeWritesSummary(t *testing.T) {
	g := &gatewaytest.Fake{Summary: gateway.Summary{Title: "Plant Energy", Tags: []string{"biology"}}}
	s, store := newSynchronizer(t, g)
	s.SetClock(func() time.Time { return time.UnixMilli(5000) })

	c := conv("Explain photosynthesis")
	written, ok := s.Synchronize(context.Background(), c)
	require.True(t, ok)
	assert.Equal(t, "Plant Energy", written.Title)
	assert.Equal(t, int64(5000), written.UpdatedAtUnixMs)

	got, ok := store.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"biology"}, got.Tags)
	assert.Equal(t, int64(1000), got.CreatedAtUnixMs)
}

func TestSynchronizeFallbackTitle(t *testing.T) {
	g := &gatewaytest.Fake{SummaryErr: errors.New("quota exceeded")}
	s, store := newSynchronizer(t, g)

	c := conv("Explain photosynthesis")
	_, ok := s.Synchronize(context.Background(), c)
	require.True(t, ok)

	got, _ := store.Get(c.ID)
	assert.Equal(t, "Explain photosynthesis", got.Title)
	assert.Equal(t, []string{}, got.Tags)
}

func TestSynchronizeEmptySummaryTitleFallsBack(t *testing.T) {
	g := &gatewaytest.Fake{Summary: gateway.Summary{Tags: []string{"x"}}}
	s, store := newSynchronizer(t, g)

	c := conv("")
	s.Synchronize(context.Background(), c)
	got, _ := store.Get(c.ID)
	assert.Equal(t, "Untitled Chat", got.Title)
	assert.Empty(t, got.Tags)
}

func TestResynchronizeIsIdempotent(t *testing.T) {
	g := &gatewaytest.Fake{Summary: gateway.Summary{Title: "First"}}
	s, store := newSynchronizer(t, g)
	c := conv("q1")

	s.Synchronize(context.Background(), c)
	g.Summarize = func(context.Context, []conversation.Interaction) (gateway.Summary, error) {
		return gateway.Summary{Title: "Second", Tags: []string{"t"}}, nil
	}
	s.Synchronize(context.Background(), c)

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, "Second", list[0].Title)
	assert.Equal(t, []string{"t"}, list[0].Tags)
}

func TestSameIDRunsInIssueOrder(t *testing.T) {
	release := make(chan struct{})
	calls := make(chan int, 2)
	var mu sync.Mutex
	n := 0
	g := &gatewaytest.Fake{
		Summarize: func(_ context.Context, in []conversation.Interaction) (gateway.Summary, error) {
			mu.Lock()
			n++
			call := n
			mu.Unlock()
			calls <- call
			if call == 1 {
				<-release // the earlier call is slow
			}
			return gateway.Summary{Title: in[len(in)-1].Query}, nil
		},
	}
	s, store := newSynchronizer(t, g)

	c := conv("q1")
	s.SynchronizeAsync(c, nil)
	require.Equal(t, 1, <-calls)

	require.NoError(t, (&c).AppendCompleted("q2", "a2"))
	s.SynchronizeAsync(c, nil)

	select {
	case <-calls:
		t.Fatal("second synchronization started before the first finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	s.Wait()

	got, _ := store.Get(c.ID)
	assert.Equal(t, "q2", got.Title)
	assert.Len(t, got.Interactions, 2)
}

func TestDistinctIDsRunConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	g := &gatewaytest.Fake{
		Summarize: func(context.Context, []conversation.Interaction) (gateway.Summary, error) {
			started <- struct{}{}
			<-release
			return gateway.Summary{Title: "t"}, nil
		},
	}
	s, store := newSynchronizer(t, g)

	s.SynchronizeAsync(conv("a"), nil)
	s.SynchronizeAsync(conv("b"), nil)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("synchronizations for different ids did not overlap")
		}
	}
	close(release)
	s.Wait()
	assert.Len(t, store.List(), 2)
}

func TestAsyncCallbackReceivesSnapshot(t *testing.T) {
	g := &gatewaytest.Fake{Summary: gateway.Summary{Title: "Done"}}
	s, _ := newSynchronizer(t, g)

	var got conversation.Conversation
	s.SynchronizeAsync(conv("q"), func(c conversation.Conversation) { got = c })
	s.Wait()
	assert.Equal(t, "Done", got.Title)
}

func TestDeleteDropsQueuedSynchronization(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	g := &gatewaytest.Fake{
		Summarize: func(context.Context, []conversation.Interaction) (gateway.Summary, error) {
			entered <- struct{}{}
			<-release
			return gateway.Summary{Title: "late"}, nil
		},
	}
	s, store := newSynchronizer(t, g)
	c := conv("q")

	s.SynchronizeAsync(c, nil)
	<-entered

	done := make(chan error, 1)
	go func() { done <- s.Delete(context.Background(), c.ID) }()

	// Let Delete bump the generation before the summary returns.
	time.Sleep(20 * time.Millisecond)
	close(release)
	s.Wait()
	require.NoError(t, <-done)

	_, ok := store.Get(c.ID)
	assert.False(t, ok)
}

func TestSynchronizeAfterDeleteWritesAgain(t *testing.T) {
	g := &gatewaytest.Fake{Summary: gateway.Summary{Title: "t"}}
	s, store := newSynchronizer(t, g)
	c := conv("q")

	s.Synchronize(context.Background(), c)
	require.NoError(t, s.Delete(context.Background(), c.ID))
	assert.Empty(t, store.List())

	_, ok := s.Synchronize(context.Background(), c)
	assert.True(t, ok)
	assert.Len(t, store.List(), 1)
}

func TestSynchronizeCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	g := &gatewaytest.Fake{
		Summarize: func(context.Context, []conversation.Interaction) (gateway.Summary, error) {
			entered <- struct{}{}
			<-release
			return gateway.Summary{Title: "t"}, nil
		},
	}
	s, _ := newSynchronizer(t, g)
	c := conv("q")
	s.SynchronizeAsync(c, nil)
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := s.Synchronize(ctx, c)
	assert.False(t, ok)

	close(release)
	s.Wait()
}

func TestSetClockWhileSynchronizing(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	g := &gatewaytest.Fake{
		Summarize: func(context.Context, []conversation.Interaction) (gateway.Summary, error) {
			entered <- struct{}{}
			<-release
			return gateway.Summary{Title: "t"}, nil
		},
	}
	s, store := newSynchronizer(t, g)
	c := conv("q")

	s.SynchronizeAsync(c, nil)
	<-entered
	s.SetClock(func() time.Time { return time.UnixMilli(7000) })
	close(release)
	s.Wait()

	got, ok := store.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, int64(7000), got.UpdatedAtUnixMs)
}
