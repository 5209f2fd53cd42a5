package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"study-chat/internal/gateway"
)

// Client handles communication with Ollama
type Client struct {
	baseURL         string
	model           string
	httpClient      *http.Client
	streamingClient *http.Client
	grounder        gateway.Grounder
	logger          *zap.Logger
}

// NewClient creates a new Ollama client. Non-streamed calls are bounded by
// timeout; streams are bounded by the caller's context only.
func NewClient(baseURL, model string, timeout time.Duration, grounder gateway.Grounder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamingClient: &http.Client{},
		grounder:        grounder,
		logger:          logger.Named("ollama"),
	}
}

// ChatSync sends a non-streaming chat request and returns the complete response
func (c *Client) ChatSync(ctx context.Context, messages []Message, format string) (string, error) {
	req := ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Format:   format,
	}

	resp, err := c.post(ctx, c.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != "" {
		return "", errors.New(chatResp.Error)
	}
	return chatResp.Message.Content, nil
}

// Chat sends a chat request and streams answer tokens to onChunk
func (c *Client) Chat(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	req := ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}

	resp, err := c.post(ctx, c.streamingClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	fullResponse, err := streamResponse(resp.Body, onChunk)
	if err != nil {
		return fullResponse, fmt.Errorf("failed to stream response: %w", err)
	}
	return fullResponse, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, req ChatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// streamResponse reads the NDJSON stream line by line. Thinking tokens are
// not part of the answer and are skipped.
func streamResponse(body io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var fullResponse bytes.Buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}
		if chunk.Error != "" {
			return fullResponse.String(), errors.New(chunk.Error)
		}

		if content := chunk.Message.Content; content != "" {
			fullResponse.WriteString(content)
			if onChunk != nil {
				onChunk(content)
			}
		}

		if chunk.Done {
			return fullResponse.String(), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fullResponse.String(), fmt.Errorf("scanner error: %w", err)
	}
	return fullResponse.String(), errors.New("stream ended before done")
}

// HealthCheck verifies that Ollama is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("Ollama is unreachable at %s: %w (is Ollama running?)", c.baseURL, err)
	}
	return nil
}

// ListModels returns the list of available models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/tags", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// CheckModel verifies that the configured model has been pulled
func (c *Client) CheckModel(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	for _, m := range models {
		if m == c.model {
			return nil
		}
	}
	return fmt.Errorf("model '%s' not found, pull it with: ollama pull %s", c.model, c.model)
}
