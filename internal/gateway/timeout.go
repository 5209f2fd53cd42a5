package gateway

import (
	"context"
	"time"

	"study-chat/internal/conversation"
)

type timed struct {
	next   Client
	stream time.Duration
	call   time.Duration
}

// WithTimeouts bounds every stream by stream and every other call by call.
// A zero duration leaves that kind of call unbounded.
func WithTimeouts(next Client, stream, call time.Duration) Client {
	return &timed{next: next, stream: stream, call: call}
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (t *timed) StreamChat(ctx context.Context, req ChatRequest, onChunk func(Chunk)) error {
	ctx, cancel := bound(ctx, t.stream)
	defer cancel()
	return t.next.StreamChat(ctx, req, onChunk)
}

func (t *timed) SummarizeAndTag(ctx context.Context, interactions []conversation.Interaction) (Summary, error) {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return t.next.SummarizeAndTag(ctx, interactions)
}

func (t *timed) SuggestFollowUps(ctx context.Context, in conversation.Interaction) ([]string, error) {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return t.next.SuggestFollowUps(ctx, in)
}

func (t *timed) FindRelevant(ctx context.Context, term string, corpus []conversation.Conversation) ([]string, error) {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return t.next.FindRelevant(ctx, term, corpus)
}
