// Package gateway defines the generative AI capability the session manager
// and history synchronizer consume, plus the prompt and reply handling the
// concrete providers share.
package gateway

import (
	"context"
	"errors"
	"net"
	"strings"

	"study-chat/internal/conversation"
)

// ErrEmptyPrompt is returned when a request has neither text nor image
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// SnagMessage is shown in place of an answer when the provider fails in transit
const SnagMessage = "I hit a snag trying to find an answer. Please try again in a moment."

// ChatRequest is one streamed question
type ChatRequest struct {
	Query     string
	Image     conversation.Image
	WebSearch bool
}

// Validate rejects requests with nothing to ask
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" && r.Image == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Chunk is one streamed piece of a response. Sources is sent at most once per stream.
type Chunk struct {
	Text    string
	Sources []conversation.Source
}

// Summary is the derived title and tags of a conversation
type Summary struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// Client is a generative AI provider.
//
// StreamChat calls onChunk for every chunk in the order received and returns
// once the stream ends; a non-nil error means the stream failed, possibly
// after some chunks were delivered.
type Client interface {
	StreamChat(ctx context.Context, req ChatRequest, onChunk func(Chunk)) error
	SummarizeAndTag(ctx context.Context, interactions []conversation.Interaction) (Summary, error)
	SuggestFollowUps(ctx context.Context, interaction conversation.Interaction) ([]string, error)
	FindRelevant(ctx context.Context, term string, corpus []conversation.Conversation) ([]string, error)
}

// Grounding is web context gathered for a query before it is sent to a
// provider without native search
type Grounding struct {
	Context string
	Sources []conversation.Source
}

// Grounder gathers web context for a query
type Grounder interface {
	Ground(ctx context.Context, query string) (Grounding, error)
}

// UserMessage turns a stream error into the text shown as the answer
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		return SnagMessage
	case errors.Is(err, ErrEmptyPrompt):
		return "Prompt cannot be empty."
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "An unknown error occurred."
	}
	return msg
}
