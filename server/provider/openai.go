package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"
)

const choicesPath = "choices.0.message.content"

// chatAdapter speaks the OpenAI chat completions format. It serves OpenAI
// itself and local OpenAI-compatible servers.
type chatAdapter struct {
	kind Kind
}

func (a chatAdapter) Kind() Kind { return a.kind }

func (a chatAdapter) BuildPayload(system, user string, m ModelConfig) ([]byte, error) {
	body, err := marshalChat(system, user, m.Model)
	if err != nil {
		return nil, err
	}
	// Set explicitly: the request type drops zero values and narrows floats.
	if body, err = sjson.SetBytes(body, "max_tokens", m.MaxTokens); err != nil {
		return nil, fmt.Errorf("set max_tokens: %w", err)
	}
	if body, err = sjson.SetBytes(body, "temperature", m.Temperature); err != nil {
		return nil, fmt.Errorf("set temperature: %w", err)
	}
	return body, nil
}

func (a chatAdapter) Parse(body []byte) (string, error) {
	return extractText(body, choicesPath)
}

// Authorize sends a bearer token. Local servers usually run without one.
func (a chatAdapter) Authorize(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

// groqAdapter sends the OpenAI-compatible body and turns reasoning down for
// models that support it.
type groqAdapter struct {
	chatAdapter
}

func (groqAdapter) Kind() Kind { return Groq }

func (a groqAdapter) BuildPayload(system, user string, m ModelConfig) ([]byte, error) {
	body, err := a.chatAdapter.BuildPayload(system, user, m)
	if err != nil {
		return nil, err
	}
	if effort := reasoningEffort(m.Model); effort != "" {
		if body, err = sjson.SetBytes(body, "reasoning_effort", effort); err != nil {
			return nil, fmt.Errorf("set reasoning_effort: %w", err)
		}
	}
	return body, nil
}

func (groqAdapter) Authorize(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

// reasoningEffort picks the lowest effort each reasoning model family
// accepts. Other models get no field at all.
func reasoningEffort(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.HasPrefix(m, "qwen3"):
		return "none"
	case strings.HasPrefix(m, "gpt-oss"):
		return "low"
	default:
		return ""
	}
}

func marshalChat(system, user, model string) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	return body, nil
}
