package ollama

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
)

var _ gateway.Client = (*Client)(nil)

// StreamChat streams an answer for req. With web search on, the grounder's
// sources are delivered as the first chunk and its context is prepended to
// the system prompt.
func (c *Client) StreamChat(ctx context.Context, req gateway.ChatRequest, onChunk func(gateway.Chunk)) error {
	if err := req.Validate(); err != nil {
		return err
	}

	system := gateway.SystemInstruction
	if req.WebSearch && c.grounder != nil {
		g, err := c.grounder.Ground(ctx, req.Query)
		if err != nil {
			c.logger.Warn("web grounding failed", zap.Error(err))
		} else {
			if len(g.Sources) > 0 {
				onChunk(gateway.Chunk{Sources: g.Sources})
			}
			if g.Context != "" {
				system += "\n\n" + g.Context
			}
		}
	}

	user := Message{Role: "user", Content: gateway.ChatPrompt(req)}
	if req.Image != "" {
		_, payload, err := req.Image.Decode()
		if err != nil {
			return fmt.Errorf("invalid image: %w", err)
		}
		user.Images = []string{payload}
		if user.Content == "" {
			user.Content = "Describe this image."
		}
	}

	messages := []Message{{Role: "system", Content: system}, user}
	_, err := c.Chat(ctx, messages, func(token string) {
		onChunk(gateway.Chunk{Text: token})
	})
	return err
}

func (c *Client) ask(ctx context.Context, prompt string) (string, error) {
	return c.ChatSync(ctx, []Message{{Role: "user", Content: prompt}}, "json")
}

// SummarizeAndTag derives a title and tags for the transcript
func (c *Client) SummarizeAndTag(ctx context.Context, interactions []conversation.Interaction) (gateway.Summary, error) {
	reply, err := c.ask(ctx, gateway.SummaryPrompt(interactions))
	if err != nil {
		return gateway.Summary{}, err
	}
	return gateway.ParseSummary(reply)
}

// SuggestFollowUps proposes next questions for a completed interaction
func (c *Client) SuggestFollowUps(ctx context.Context, in conversation.Interaction) ([]string, error) {
	reply, err := c.ask(ctx, gateway.FollowUpPrompt(in))
	if err != nil {
		return nil, err
	}
	return gateway.ParseFollowUps(reply)
}

// FindRelevant ranks corpus ids against term
func (c *Client) FindRelevant(ctx context.Context, term string, corpus []conversation.Conversation) ([]string, error) {
	reply, err := c.ask(ctx, gateway.RelevancePrompt(term, corpus))
	if err != nil {
		return nil, err
	}
	return gateway.ParseRelevant(reply)
}
