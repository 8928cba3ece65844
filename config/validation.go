package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ValidationResult collects problems found by Check. Errors prevent the
// pipeline from calling a provider; warnings are advisory.
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// HasErrors reports whether any error was recorded.
func (r ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether any warning was recorded.
func (r ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Check inspects a loaded configuration for operational problems that
// Normalize cannot repair, such as missing credentials.
func (c *Config) Check() ValidationResult {
	var result ValidationResult

	if !c.HasValidCredentials() {
		switch c.LLM.Provider {
		case ProviderOpenAI:
			result.addError("OpenAI API key is required but not set")
		case ProviderAnthropic:
			result.addError("Anthropic API key is required but not set")
		case ProviderGroq:
			result.addError("Groq API key is required but not set")
		case ProviderLocal:
			result.addError("Local API endpoint is required but not set")
		}
	}

	if c.LLM.Timeout < 5*time.Second {
		result.addWarning("Very short timeout (%s) may cause frequent failures", c.LLM.Timeout)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute > 50 {
		result.addWarning("High rate limit (%d/min) may be expensive", c.RateLimit.RequestsPerMinute)
	}

	return result
}

// LogCheck logs every error and warning of Check and reports whether the
// configuration is usable.
func (c *Config) LogCheck(logger *zap.Logger) bool {
	result := c.Check()
	for _, e := range result.Errors {
		logger.Error("configuration error", zap.String("error", e))
	}
	for _, w := range result.Warnings {
		logger.Warn("configuration warning", zap.String("warning", w))
	}
	return !result.HasErrors()
}

// StatusFields summarises the active provider settings for logging.
// API keys are never included.
func (c *Config) StatusFields() []zap.Field {
	p := c.ActiveProvider()
	return []zap.Field{
		zap.String("provider", c.LLM.Provider),
		zap.String("model", p.Model),
		zap.String("endpoint", p.Endpoint),
		zap.Bool("credentials", c.HasValidCredentials()),
		zap.Int("max_tokens", c.LLM.MaxTokens),
		zap.Float64("temperature", c.LLM.Temperature),
		zap.Duration("timeout", c.LLM.Timeout),
		zap.Int("retry_attempts", c.LLM.RetryAttempts),
		zap.Bool("rate_limit", c.RateLimit.Enabled),
		zap.Int("requests_per_minute", c.RateLimit.RequestsPerMinute),
		zap.String("cache", c.cacheStatus()),
		zap.String("assign_mode", c.Assign.Mode),
	}
}

func (c *Config) cacheStatus() string {
	if !c.Cache.Enabled {
		return "disabled"
	}
	return strings.Join([]string{c.Cache.Type, c.Cache.TTL.String()}, "/")
}
