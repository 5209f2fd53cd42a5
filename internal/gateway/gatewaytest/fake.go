// Package gatewaytest provides a scripted gateway.Client for tests
package gatewaytest

import (
	"context"
	"sync"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
)

// Fake replays scripted chunks and records every call. Callbacks, when set,
// replace the scripted behaviour.
type Fake struct {
	mu sync.Mutex

	Chunks    []gateway.Chunk
	StreamErr error
	// Stream overrides Chunks/StreamErr when set
	Stream func(ctx context.Context, req gateway.ChatRequest, onChunk func(gateway.Chunk)) error

	FollowUps   []string
	FollowUpErr error

	Summary    gateway.Summary
	SummaryErr error
	// Summarize overrides Summary/SummaryErr when set
	Summarize func(ctx context.Context, interactions []conversation.Interaction) (gateway.Summary, error)

	Relevant    []string
	RelevantErr error

	Requests       []gateway.ChatRequest
	SummaryCalls   int
	FollowUpCalls  int
	RelevanceCalls int
}

func (f *Fake) StreamChat(ctx context.Context, req gateway.ChatRequest, onChunk func(gateway.Chunk)) error {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	stream, chunks, err := f.Stream, append([]gateway.Chunk{}, f.Chunks...), f.StreamErr
	f.mu.Unlock()

	if stream != nil {
		return stream(ctx, req, onChunk)
	}
	for _, c := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onChunk(c)
	}
	return err
}

func (f *Fake) SummarizeAndTag(ctx context.Context, interactions []conversation.Interaction) (gateway.Summary, error) {
	f.mu.Lock()
	f.SummaryCalls++
	fn, s, err := f.Summarize, f.Summary, f.SummaryErr
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, interactions)
	}
	return s, err
}

func (f *Fake) SuggestFollowUps(context.Context, conversation.Interaction) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FollowUpCalls++
	return f.FollowUps, f.FollowUpErr
}

func (f *Fake) FindRelevant(context.Context, string, []conversation.Conversation) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RelevanceCalls++
	return f.Relevant, f.RelevantErr
}

// Calls returns a snapshot of the counters
func (f *Fake) Calls() (summaries, followUps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SummaryCalls, f.FollowUpCalls
}

// LastRequest returns the most recent chat request
func (f *Fake) LastRequest() (gateway.ChatRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return gateway.ChatRequest{}, false
	}
	return f.Requests[len(f.Requests)-1], true
}
