package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"study-chat/internal/conversation"
	"study-chat/internal/gateway"
)

type staticGrounder struct{ g gateway.Grounding }

func (s staticGrounder) Ground(context.Context, string) (gateway.Grounding, error) { return s.g, nil }

func TestStreamChat(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","thinking":"hmm"},"done":false}
{"message":{"role":"assistant","content":"Hel"},"done":false}
not json
{"message":{"role":"assistant","content":"lo"},"done":false}
{"message":{"role":"assistant","content":""},"done":true}
`))
	}))
	defer srv.Close()

	grounder := staticGrounder{gateway.Grounding{
		Context: "# Web Search Results",
		Sources: []conversation.Source{{URI: "https://a.example", Title: "A"}},
	}}
	c := NewClient(srv.URL, "llama3", time.Second, grounder, zaptest.NewLogger(t))

	var chunks []gateway.Chunk
	err := c.StreamChat(context.Background(), gateway.ChatRequest{
		Query:     "what is this",
		Image:     conversation.NewImage("image/png", []byte("png")),
		WebSearch: true,
	}, func(ch gateway.Chunk) { chunks = append(chunks, ch) })
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, []conversation.Source{{URI: "https://a.example", Title: "A"}}, chunks[0].Sources)
	assert.Equal(t, "Hel", chunks[1].Text)
	assert.Equal(t, "lo", chunks[2].Text)

	assert.Equal(t, "llama3", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "# Web Search Results")
	assert.Equal(t, []string{"cG5n"}, got.Messages[1].Images)
}

func TestStreamChatErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"par"},"done":false}
{"error":"model crashed"}
`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", time.Second, nil, nil)
	var text string
	err := c.StreamChat(context.Background(), gateway.ChatRequest{Query: "q"}, func(ch gateway.Chunk) { text += ch.Text })
	assert.ErrorContains(t, err, "model crashed")
	assert.Equal(t, "par", text)
}

func TestStreamChatRejectsEmpty(t *testing.T) {
	c := NewClient("http://unused", "m", time.Second, nil, nil)
	err := c.StreamChat(context.Background(), gateway.ChatRequest{Query: " "}, func(gateway.Chunk) {})
	assert.ErrorIs(t, err, gateway.ErrEmptyPrompt)
}

func TestStructuredCalls(t *testing.T) {
	replies := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		prompt := req.Messages[0].Content
		reply := `{"relevantIds":["c2"]}`
		switch {
		case strings.Contains(prompt, "descriptive title"):
			reply = "```json\n{\"title\":\"Cells\",\"tags\":[\"biology\"]}\n```"
		case strings.Contains(prompt, "follow-up"):
			reply = `{"questions":["What is ATP?"]}`
		}
		replies[prompt] = reply
		json.NewEncoder(w).Encode(ChatResponse{Message: Message{Role: "assistant", Content: reply}, Done: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", time.Second, nil, nil)
	ctx := context.Background()

	s, err := c.SummarizeAndTag(ctx, []conversation.Interaction{{Query: "cells?", Response: "units of life"}})
	require.NoError(t, err)
	assert.Equal(t, gateway.Summary{Title: "Cells", Tags: []string{"biology"}}, s)

	q, err := c.SuggestFollowUps(ctx, conversation.Interaction{Query: "cells?", Response: "units"})
	require.NoError(t, err)
	assert.Equal(t, []string{"What is ATP?"}, q)

	ids, err := c.FindRelevant(ctx, "bio", []conversation.Conversation{{ID: "c2", Title: "Cells"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
	assert.Len(t, replies, 3)
}

func TestCheckModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "llama3", time.Second, nil, nil).CheckModel(context.Background()))
	assert.ErrorContains(t, NewClient(srv.URL, "phi", time.Second, nil, nil).CheckModel(context.Background()), "ollama pull phi")
}
