package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractJSON strips markdown fences and any prose around the first JSON object
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
	}
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return "", errors.New("no JSON object in response")
	}
	return response[start : end+1], nil
}

func decodeInto(response string, v any) error {
	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to parse LLM response: %w", err)
	}
	return nil
}

// ParseSummary decodes a SummaryPrompt reply
func ParseSummary(response string) (Summary, error) {
	var s Summary
	if err := decodeInto(response, &s); err != nil {
		return Summary{}, err
	}
	s.Title = strings.TrimSpace(s.Title)
	tags := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	s.Tags = tags
	return s, nil
}

// ParseFollowUps decodes a FollowUpPrompt reply
func ParseFollowUps(response string) ([]string, error) {
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := decodeInto(response, &out); err != nil {
		return nil, err
	}
	return nonBlank(out.Questions), nil
}

// ParseRelevant decodes a RelevancePrompt reply
func ParseRelevant(response string) ([]string, error) {
	var out struct {
		RelevantIDs []string `json:"relevantIds"`
	}
	if err := decodeInto(response, &out); err != nil {
		return nil, err
	}
	return nonBlank(out.RelevantIDs), nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
