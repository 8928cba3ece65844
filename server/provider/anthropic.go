package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultAnthropicVersion is sent when no version is configured.
const DefaultAnthropicVersion = "2023-06-01"

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

// anthropicAdapter speaks the Messages API. The system prompt travels as a
// top-level field and temperature is not sent.
type anthropicAdapter struct {
	version string
}

func (anthropicAdapter) Kind() Kind { return Anthropic }

func (anthropicAdapter) BuildPayload(system, user string, m ModelConfig) ([]byte, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     m.Model,
		MaxTokens: m.MaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}
	return body, nil
}

func (anthropicAdapter) Parse(body []byte) (string, error) {
	return extractText(body, "content.0.text")
}

func (a anthropicAdapter) Authorize(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", a.version)
}
