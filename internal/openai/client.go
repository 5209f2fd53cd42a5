// Package openai adapts any OpenAI-compatible chat completions endpoint
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
)

// Client streams chat completions and answers structured prompts
type Client struct {
	client   openai.Client
	model    string
	grounder gateway.Grounder
	logger   *zap.Logger
}

var _ gateway.Client = (*Client)(nil)

// NewClient creates a client. An empty baseURL targets api.openai.com.
func NewClient(baseURL, apiKey, model string, grounder gateway.Grounder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:   openai.NewClient(opts...),
		model:    model,
		grounder: grounder,
		logger:   logger.Named("openai"),
	}
}

func userMessage(req gateway.ChatRequest) (openai.ChatCompletionMessageParamUnion, error) {
	text := gateway.ChatPrompt(req)
	if req.Image == "" {
		return openai.UserMessage(text), nil
	}
	if _, _, err := req.Image.Decode(); err != nil {
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("invalid image: %w", err)
	}
	if text == "" {
		text = "Describe this image."
	}
	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(text),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: string(req.Image)}),
	}), nil
}

// StreamChat streams an answer. Web grounding comes from the configured
// grounder since the endpoint has no native search.
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
			system += "\n\n" + g.Context
		}
	}

	user, err := userMessage(req)
	if err != nil {
		return err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system), user},
	})
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			onChunk(gateway.Chunk{Text: delta})
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("failed to stream response: %w", err)
	}
	return nil
}

func (c *Client) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
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
