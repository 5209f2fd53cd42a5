// Package gemini talks to the Gemini generative language REST API
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
)

// DefaultBaseURL is the public Gemini endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Client handles communication with Gemini
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	httpClient      *http.Client
	streamingClient *http.Client
	logger          *zap.Logger
}

var _ gateway.Client = (*Client)(nil)

// NewClient creates a Gemini client. Non-streamed calls are bounded by timeout.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		model:           model,
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
		logger:          logger.Named("gemini"),
	}
}

func (c *Client) post(ctx context.Context, hc *http.Client, method string, body GenerateRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, c.model, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var envelope GenerateResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			return nil, envelope.Error
		}
		return nil, fmt.Errorf("Gemini returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}

// StreamChat streams an answer. With web search on, Google Search grounding
// is enabled and the collected sources are delivered once after the text.
func (c *Client) StreamChat(ctx context.Context, req gateway.ChatRequest, onChunk func(gateway.Chunk)) error {
	if err := req.Validate(); err != nil {
		return err
	}

	user := Content{Role: "user"}
	if text := gateway.ChatPrompt(req); text != "" {
		user.Parts = append(user.Parts, Part{Text: text})
	}
	if req.Image != "" {
		mime, payload, err := req.Image.Decode()
		if err != nil {
			return fmt.Errorf("invalid image: %w", err)
		}
		user.Parts = append(user.Parts, Part{InlineData: &InlineData{MimeType: mime, Data: payload}})
	}

	body := GenerateRequest{
		SystemInstruction: &Content{Parts: []Part{{Text: gateway.SystemInstruction}}},
		Contents:          []Content{user},
	}
	if req.WebSearch {
		body.Tools = []Tool{{GoogleSearch: &struct{}{}}}
	}

	resp, err := c.post(ctx, c.streamingClient, "streamGenerateContent?alt=sse", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sources, err := readEvents(resp.Body, func(text string) {
		onChunk(gateway.Chunk{Text: text})
	})
	if len(sources) > 0 {
		onChunk(gateway.Chunk{Sources: sources})
	}
	return err
}

// readEvents decodes an SSE stream, forwarding text and collecting
// deduplicated grounding sources
func readEvents(body io.Reader, onText func(string)) ([]conversation.Source, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var sources []conversation.Source
	seen := make(map[string]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event GenerateResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Error != nil {
			return sources, event.Error
		}
		if text := event.Text(); text != "" {
			onText(text)
		}
		for _, cand := range event.Candidates {
			if cand.GroundingMetadata == nil {
				continue
			}
			for _, gc := range cand.GroundingMetadata.GroundingChunks {
				if gc.Web == nil || gc.Web.URI == "" || seen[gc.Web.URI] {
					continue
				}
				seen[gc.Web.URI] = true
				sources = append(sources, conversation.Source{URI: gc.Web.URI, Title: gc.Web.Title})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return sources, fmt.Errorf("failed to stream response: %w", err)
	}
	return sources, nil
}

func (c *Client) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, c.httpClient, "generateContent", GenerateRequest{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
		GenerationConfig: &GenerationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	text := out.Text()
	if text == "" {
		return "", errors.New("Gemini returned an empty response")
	}
	return text, nil
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
