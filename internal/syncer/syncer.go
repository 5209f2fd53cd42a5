// Package syncer promotes live conversations into the persisted history.
//
// Work for one conversation id runs strictly in the order it was issued;
// different ids proceed concurrently. The synchronizer is the only writer of
// the history store once the application is running.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
	"study-chat/internal/history"
)

// Summarizer derives a title and tags from a transcript
type Summarizer interface {
	SummarizeAndTag(ctx context.Context, interactions []conversation.Interaction) (gateway.Summary, error)
}

// Synchronizer summarizes conversations and merges them into the history store
type Synchronizer struct {
	store      *history.Store
	summarizer Summarizer
	logger     *zap.Logger

	mu    sync.Mutex
	now   func() time.Time
	tails map[string]chan struct{}
	gens  map[string]uint64
	wg    conc.WaitGroup
}

// New creates a synchronizer
func New(store *history.Store, summarizer Summarizer, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:      store,
		summarizer: summarizer,
		logger:     logger.Named("syncer"),
		now:        time.Now,
		tails:      make(map[string]chan struct{}),
		gens:       make(map[string]uint64),
	}
}

// SetClock overrides the time source. It is safe to call while
// synchronizations are running.
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Synchronizer) clock() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

// Synchronize summarizes conv and merges it into history, blocking until
// done. It reports false when nothing was written: conv was empty, its id
// was deleted after the call was issued, or ctx ended while queued.
// Summarization failures fall back to a title taken from the first query.
func (s *Synchronizer) Synchronize(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, bool) {
	if len(conv.Interactions) == 0 {
		return conversation.Conversation{}, false
	}
	snap := conv.Clone()

	gen, leave, ready := s.reserve(snap.ID)
	select {
	case <-ready:
	case <-ctx.Done():
		// Hand over only once the previous job is done so order still holds.
		go func() {
			<-ready
			leave()
		}()
		s.logger.Warn("synchronization abandoned", zap.String("id", snap.ID), zap.Error(ctx.Err()))
		return conversation.Conversation{}, false
	}
	defer leave()
	return s.run(ctx, gen, snap)
}

// SynchronizeAsync runs Synchronize in the background. The order of issue
// is fixed before it returns. then, when non-nil, receives the written
// snapshot.
func (s *Synchronizer) SynchronizeAsync(conv conversation.Conversation, then func(conversation.Conversation)) {
	if len(conv.Interactions) == 0 {
		return
	}
	snap := conv.Clone()

	// Reserve the queue slot now so a later call cannot overtake this one.
	gen, leave, ready := s.reserve(snap.ID)
	s.wg.Go(func() {
		<-ready
		defer leave()
		if written, ok := s.run(context.Background(), gen, snap); ok && then != nil {
			then(written)
		}
	})
}

func (s *Synchronizer) reserve(id string) (uint64, func(), <-chan struct{}) {
	s.mu.Lock()
	prev := s.tails[id]
	mine := make(chan struct{})
	s.tails[id] = mine
	gen := s.gens[id]
	s.mu.Unlock()

	ready := prev
	if ready == nil {
		c := make(chan struct{})
		close(c)
		ready = c
	}
	leave := func() {
		s.mu.Lock()
		if s.tails[id] == mine {
			delete(s.tails, id)
		}
		s.mu.Unlock()
		close(mine)
	}
	return gen, leave, ready
}

func (s *Synchronizer) current(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id]
}

func (s *Synchronizer) run(ctx context.Context, gen uint64, snap conversation.Conversation) (conversation.Conversation, bool) {
	if s.current(snap.ID) != gen {
		return conversation.Conversation{}, false
	}

	summary, err := s.summarizer.SummarizeAndTag(ctx, snap.Interactions)
	if err != nil {
		s.logger.Warn("summarize failed, using fallback title", zap.String("id", snap.ID), zap.Error(err))
		summary = gateway.Summary{}
	}
	if summary.Title == "" {
		summary = gateway.Summary{Title: snap.FallbackTitle()}
	}
	snap.Title = summary.Title
	snap.Tags = append([]string{}, summary.Tags...)
	snap.UpdatedAtUnixMs = s.clock().UnixMilli()

	// Deleted while summarizing
	if s.current(snap.ID) != gen {
		return conversation.Conversation{}, false
	}

	if err := s.store.Upsert(ctx, snap); err != nil {
		s.logger.Error("failed to persist history", zap.String("id", snap.ID), zap.Error(err))
		if _, ok := s.store.Get(snap.ID); !ok {
			return conversation.Conversation{}, false
		}
	}
	s.logger.Debug("synchronized", zap.String("id", snap.ID), zap.String("title", snap.Title),
		zap.Int("interactions", len(snap.Interactions)))
	return snap, true
}

// Delete removes id from history. Synchronizations issued before the call
// and not yet written are dropped; one already writing finishes first.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.gens[id]++
	s.mu.Unlock()

	_, leave, ready := s.reserve(id)
	defer leave()
	<-ready
	return s.store.Delete(ctx, id)
}

// Wait blocks until every background synchronization has finished
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}
