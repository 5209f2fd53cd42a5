package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"study-chat/internal/conversation"
)

// SystemInstruction sets the assistant persona for chat streams
const SystemInstruction = `You are a friendly and concise study assistant. Give clear, direct, easy-to-understand answers.
Start with the most important information, keep explanations brief, use short bullet lists for key points
and bold the key terms. End with a single relevant follow-up question.`

// ChatPrompt returns the text sent for a user query
func ChatPrompt(req ChatRequest) string {
	if !req.WebSearch {
		return req.Query
	}
	return fmt.Sprintf(`Using the web sources provided, synthesize an original answer for a student. `+
		`Do not quote the sources directly; explain in your own words. Question: "%s"`, req.Query)
}

const snippetLen = 200

// SummaryPrompt asks for a title and tags for the transcript
func SummaryPrompt(interactions []conversation.Interaction) string {
	var sb strings.Builder
	for i, in := range interactions {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		resp := in.Response
		if len(resp) > snippetLen {
			resp = resp[:snippetLen] + "..."
		}
		fmt.Fprintf(&sb, "Q: %s\nA: %s", in.Query, resp)
	}

	return fmt.Sprintf(`Based on the following conversation, perform two tasks:
1. Create a short, descriptive title (5-8 words max).
2. Generate 2-4 relevant keyword tags.

Conversation snippet:
---
%s
---

Respond ONLY with valid JSON in this exact format:
{"title": "...", "tags": ["...", "..."]}`, sb.String())
}

// FollowUpPrompt asks for suggested next questions
func FollowUpPrompt(in conversation.Interaction) string {
	return fmt.Sprintf(`A student asked: "%s"

The answer was:
---
%s
---

Suggest 3 short follow-up questions the student could ask next.
Respond ONLY with valid JSON in this exact format:
{"questions": ["...", "...", "..."]}`, in.Query, in.Response)
}

type searchEntry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	FirstQuery string   `json:"firstQuery,omitempty"`
}

// RelevancePrompt asks which conversations match the search term
func RelevancePrompt(term string, corpus []conversation.Conversation) string {
	entries := make([]searchEntry, len(corpus))
	for i, c := range corpus {
		entries[i] = searchEntry{ID: c.ID, Title: c.Title, Tags: c.Tags}
		if len(c.Interactions) > 0 {
			entries[i].FirstQuery = c.Interactions[0].Query
		}
	}
	list, _ := json.Marshal(entries)

	return fmt.Sprintf(`You are a search assistant for a conversation history.
The user's search query is: "%s"

Conversations:
%s

Return the ids of the conversations semantically relevant to the query, considering the title,
tags and first query, ordered from most to least relevant.
Respond ONLY with valid JSON in this exact format:
{"relevantIds": ["...", "..."]}`, term, string(list))
}
