// Package provider talks to the language model backends. An Adapter knows
// one backend's wire format; a Client sends requests through an adapter with
// pacing, a circuit breaker and metrics.
package provider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/teilomillet/quill/config"
)

// Kind identifies a backend family.
type Kind string

const (
	OpenAI    Kind = config.ProviderOpenAI
	Anthropic Kind = config.ProviderAnthropic
	Groq      Kind = config.ProviderGroq
	Local     Kind = config.ProviderLocal
)

// ModelConfig carries the per-request model parameters.
type ModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Adapter builds request bodies and extracts the completion text for one
// backend. Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Kind() Kind
	BuildPayload(system, user string, m ModelConfig) ([]byte, error)
	Parse(body []byte) (string, error)
	Authorize(h http.Header, apiKey string)
}

// NewAdapter returns the adapter for kind. anthropicVersion is only used by
// the Anthropic adapter and defaults to DefaultAnthropicVersion.
func NewAdapter(kind Kind, anthropicVersion string) (Adapter, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case OpenAI:
		return chatAdapter{kind: OpenAI}, nil
	case Local:
		return chatAdapter{kind: Local}, nil
	case Groq:
		return groqAdapter{chatAdapter{kind: Groq}}, nil
	case Anthropic:
		if anthropicVersion == "" {
			anthropicVersion = DefaultAnthropicVersion
		}
		return anthropicAdapter{version: anthropicVersion}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, kind)
	}
}
