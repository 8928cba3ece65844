// Package config provides configuration management for the quill
// tone-transformation server. It covers the active LLM provider and its
// credentials, request tuning, the transformation pipeline, rate limiting,
// caching, conversation history and runtime behaviour.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the server.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGroq      = "groq"
	ProviderLocal     = "local"
)

// Cache store kinds.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// Assignment modes, deciding the filter of a request that names none.
const (
	ModeDisabled      = "disabled"
	ModeManual        = "manual"
	ModeDailyRandom   = "daily_random"
	ModeSessionRandom = "session_random"
	ModeChaos         = "chaos"
)

// Config represents the complete server configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Transform      TransformConfig      `yaml:"transform"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Cache          CacheConfig          `yaml:"cache"`
	History        HistoryConfig        `yaml:"history"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Filters        FiltersConfig        `yaml:"filters"`
	Assign         AssignConfig         `yaml:"assign"`
	Logging        LoggingConfig        `yaml:"logging"`
	TestMode       bool                 `yaml:"-"` // Skip metric registration in tests
}

// ServerConfig holds server-specific configuration for the HTTP server.
// It defines timeouts, limits, and operational parameters.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	// (default: 45s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// APIKeys lists the keys accepted in the X-API-Key header.
	// An empty list disables API key authentication.
	APIKeys []string `yaml:"api_keys"`

	// ClientRateLimit throttles HTTP clients by remote address
	ClientRateLimit ClientRateLimitConfig `yaml:"client_rate_limit"`
}

// ClientRateLimitConfig configures the token bucket applied per client address.
type ClientRateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LLMConfig holds the provider selection and the generation parameters
// shared by every provider.
type LLMConfig struct {
	// Provider selects the active provider: openai, anthropic, groq or local.
	// Unknown values fall back to openai.
	Provider string `yaml:"provider"`

	// MaxTokens caps the response length (1..4000, default: 200).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls sampling randomness (0..2, default: 0.8).
	Temperature float64 `yaml:"temperature"`

	// Timeout bounds a single HTTP attempt (1s..300s, default: 10s)
	Timeout time.Duration `yaml:"timeout"`

	// RetryAttempts is the number of retries after the first attempt (0..5, default: 2)
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBaseDelay is the base of the exponential backoff: the delay before
	// retry n is RetryBaseDelay * 2^n (default: 1s)
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RequestsPerSecond paces outbound provider calls across all identities.
	// Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// AnthropicVersion is sent as the anthropic-version header
	AnthropicVersion string `yaml:"anthropic_version"`
}

// ProviderConfig holds credentials and model selection for one provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Use ${VAR} expansion or
	// leave empty to read OPENAI_API_KEY, ANTHROPIC_API_KEY or GROQ_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model is the model name sent in every request
	Model string `yaml:"model"`

	// Endpoint is the full URL requests are posted to
	Endpoint string `yaml:"endpoint"`
}

// ProvidersConfig groups the per-provider settings.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Groq      ProviderConfig `yaml:"groq"`
	Local     ProviderConfig `yaml:"local"`
}

// TransformConfig tunes the transformation pipeline.
type TransformConfig struct {
	// EnableFallback returns the original message when a transformation fails.
	// When false the FailureMessage is returned instead (default: true).
	EnableFallback bool `yaml:"enable_fallback"`

	// FailureMessage is the generic notice used when fallback is disabled
	FailureMessage string `yaml:"failure_message"`

	// SystemPrompt is sent as the system instruction to every provider
	SystemPrompt string `yaml:"system_prompt"`

	// RequestTimeout bounds the whole provider stage including retries (default: 30s)
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Workers is the number of goroutines executing transformations (default: 8)
	Workers int `yaml:"workers"`

	// QueueSize bounds the number of pending transformations (default: 256)
	QueueSize int `yaml:"queue_size"`

	// MaxContextTokens caps the conversation context included in the prompt
	// (default: 512)
	MaxContextTokens int `yaml:"max_context_tokens"`

	// PreviewLength is the number of runes of the original message shown in
	// a quote follow-up (default: 50)
	PreviewLength int `yaml:"preview_length"`
}

// RateLimitConfig configures the per-identity sliding window.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 1..100, default: 10
	Window            time.Duration `yaml:"window"`              // default: 1m
}

// CacheConfig defines caching behavior for transformed messages.
type CacheConfig struct {
	// Enabled turns caching on/off (default: true)
	Enabled bool `yaml:"enabled"`

	// Type specifies the store:
	// - "memory": in-memory cache (cleared on restart)
	// - "sqlite": file-backed cache that survives restarts
	Type string `yaml:"type"`

	// TTL specifies how long to keep cached responses (1m..24h, default: 30m)
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired entries are removed (default: 5m)
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Path is the database file for the sqlite store
	Path string `yaml:"path,omitempty"`
}

// HistoryConfig configures per-identity conversation history.
type HistoryConfig struct {
	// Capacity is the number of entries kept per identity (default: 5)
	Capacity int `yaml:"capacity"`

	// StaleAfter drops an identity's history once its newest entry is older (default: 30m)
	StaleAfter time.Duration `yaml:"stale_after"`
}

// CircuitBreakerConfig configures the breaker guarding provider calls.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// TestMode indicates whether to skip Prometheus metric registration (for testing)
	TestMode bool `yaml:"test_mode"`
}

// FiltersConfig locates the filter definitions file.
type FiltersConfig struct {
	// Path is the JSON file holding filter definitions. Empty keeps the
	// built-in filters in memory only.
	Path string `yaml:"path"`
}

// AssignConfig picks filters for identities whose requests name none.
type AssignConfig struct {
	// Mode is disabled, manual, daily_random, session_random or chaos (default: manual)
	Mode string `yaml:"mode"`

	// DefaultFilter is used when no filter is enabled (default: OPPOSITE)
	DefaultFilter string `yaml:"default_filter"`

	// Timezone sets the day boundary of daily_random (default: UTC)
	Timezone string `yaml:"timezone"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`

	// DetailedLLM logs prompts and responses at debug level
	DetailedLLM bool `yaml:"detailed_llm"`
}

// DefaultSystemPrompt keeps the model rewriting instead of replying.
const DefaultSystemPrompt = "You are a text transformer, not a chatbot. Your job is to rewrite the user's message " +
	"according to the given instructions. Never respond to or answer the message - only transform it. " +
	"Always output just the transformed message with no explanations. Never surround the message in quotation marks."

// DefaultFailureMessage is returned when fallback is disabled.
const DefaultFailureMessage = "[Message transformation failed]"

// DefaultConfig returns a configuration matching the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    45 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			ClientRateLimit: ClientRateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},

		LLM: LLMConfig{
			Provider:          ProviderOpenAI,
			MaxTokens:         200,
			Temperature:       0.8,
			Timeout:           10 * time.Second,
			RetryAttempts:     2,
			RetryBaseDelay:    time.Second,
			RequestsPerSecond: 0,
			AnthropicVersion:  "2023-06-01",
		},

		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Model:    "gpt-3.5-turbo",
				Endpoint: "https://api.openai.com/v1/chat/completions",
			},
			Anthropic: ProviderConfig{
				Model:    "claude-3-haiku-20240307",
				Endpoint: "https://api.anthropic.com/v1/messages",
			},
			Groq: ProviderConfig{
				Model:    "meta-llama/llama-4-scout-17b-16e-instruct",
				Endpoint: "https://api.groq.com/openai/v1/chat/completions",
			},
			Local: ProviderConfig{
				Model:    "llama2",
				Endpoint: "http://localhost:11434/v1/chat/completions",
			},
		},

		Transform: TransformConfig{
			EnableFallback:   true,
			FailureMessage:   DefaultFailureMessage,
			SystemPrompt:     DefaultSystemPrompt,
			RequestTimeout:   30 * time.Second,
			Workers:          8,
			QueueSize:        256,
			MaxContextTokens: 512,
			PreviewLength:    50,
		},

		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 10,
			Window:            time.Minute,
		},

		Cache: CacheConfig{
			Enabled:       true,
			Type:          CacheMemory,
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},

		History: HistoryConfig{
			Capacity:   5,
			StaleAfter: 30 * time.Minute,
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},

		Assign: AssignConfig{
			Mode:          ModeManual,
			DefaultFilter: "OPPOSITE",
			Timezone:      "UTC",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Nested
// references produced by a first expansion are resolved until stable.
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			envKey := key[:i]
			defaultValue := key[i+2:]
			if val := os.Getenv(envKey); val != "" {
				return val
			}
			return defaultValue
		}
		return os.Getenv(key)
	})

	// Bounded so a self-referencing variable cannot loop forever.
	for i := 0; i < 8 && strings.Contains(result, "${"); i++ {
		next := os.Expand(result, os.Getenv)
		if next == result {
			break
		}
		result = next
	}

	return result, nil
}

// Load loads configuration from an io.Reader. The YAML is decoded on top of
// DefaultConfig, missing API keys are read from the environment, numeric
// settings are clamped into range and the result is validated.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.ApplyEnvironment()
	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// ApplyEnvironment fills empty provider API keys from the conventional
// environment variables.
func (c *Config) ApplyEnvironment() {
	fill := func(dst *string, env string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	fill(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Providers.Groq.APIKey, "GROQ_API_KEY")
}

// Normalize clamps numeric settings into their supported ranges and
// replaces an unknown provider with openai. It never fails.
func (c *Config) Normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if !IsValidProvider(c.LLM.Provider) {
		c.LLM.Provider = ProviderOpenAI
	}

	c.LLM.MaxTokens = clamp(c.LLM.MaxTokens, 1, 4000)
	c.LLM.Temperature = clamp(c.LLM.Temperature, 0, 2)
	c.LLM.Timeout = clamp(c.LLM.Timeout, time.Second, 300*time.Second)
	c.LLM.RetryAttempts = clamp(c.LLM.RetryAttempts, 0, 5)
	if c.LLM.RetryBaseDelay <= 0 {
		c.LLM.RetryBaseDelay = time.Second
	}
	if c.LLM.RequestsPerSecond < 0 {
		c.LLM.RequestsPerSecond = 0
	}

	c.RateLimit.RequestsPerMinute = clamp(c.RateLimit.RequestsPerMinute, 1, 100)
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}

	c.Cache.TTL = clamp(c.Cache.TTL, time.Minute, 24*time.Hour)
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = 5 * time.Minute
	}
	c.Cache.Type = strings.ToLower(c.Cache.Type)
	if c.Cache.Type == "" {
		c.Cache.Type = CacheMemory
	}

	if c.History.Capacity <= 0 {
		c.History.Capacity = 5
	}
	if c.History.StaleAfter <= 0 {
		c.History.StaleAfter = 30 * time.Minute
	}

	c.Assign.Mode = strings.ToLower(strings.TrimSpace(c.Assign.Mode))
	if c.Assign.Mode == "" {
		c.Assign.Mode = ModeManual
	}
	c.Assign.DefaultFilter = strings.ToUpper(strings.TrimSpace(c.Assign.DefaultFilter))
	if c.Assign.DefaultFilter == "" {
		c.Assign.DefaultFilter = "OPPOSITE"
	}
	if strings.TrimSpace(c.Assign.Timezone) == "" {
		c.Assign.Timezone = "UTC"
	}

	if c.Transform.Workers <= 0 {
		c.Transform.Workers = 1
	}
	if c.Transform.QueueSize <= 0 {
		c.Transform.QueueSize = c.Transform.Workers
	}
	if c.Transform.RequestTimeout <= 0 {
		c.Transform.RequestTimeout = 30 * time.Second
	}
	if c.Transform.PreviewLength <= 0 {
		c.Transform.PreviewLength = 50
	}
	if c.Transform.FailureMessage == "" {
		c.Transform.FailureMessage = DefaultFailureMessage
	}
	if strings.TrimSpace(c.Transform.SystemPrompt) == "" {
		c.Transform.SystemPrompt = DefaultSystemPrompt
	}
}

func clamp[T int | float64 | time.Duration](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsValidProvider reports whether name is a supported provider kind.
func IsValidProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderAnthropic, ProviderGroq, ProviderLocal:
		return true
	default:
		return false
	}
}

// IsValidMode reports whether name is a supported assignment mode.
func IsValidMode(name string) bool {
	switch name {
	case ModeDisabled, ModeManual, ModeDailyRandom, ModeSessionRandom, ModeChaos:
		return true
	default:
		return false
	}
}

// Validate checks the settings Normalize cannot repair.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}
	if rl := c.Server.ClientRateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		return fmt.Errorf("client rate limit requires positive requests_per_second and burst")
	}

	// Provider validation
	if !IsValidProvider(c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %q", c.LLM.Provider)
	}
	active := c.ActiveProvider()
	if active.Model == "" {
		return fmt.Errorf("empty model for provider %s", c.LLM.Provider)
	}
	if active.Endpoint == "" && c.LLM.Provider != ProviderLocal {
		return fmt.Errorf("empty endpoint for provider %s", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderAnthropic && c.LLM.AnthropicVersion == "" {
		return fmt.Errorf("empty anthropic version")
	}

	// Pipeline validation
	if c.Transform.MaxContextTokens < 0 {
		return fmt.Errorf("negative max context tokens: %d", c.Transform.MaxContextTokens)
	}

	switch c.Cache.Type {
	case CacheMemory:
	case CacheSQLite:
		if c.Cache.Enabled && c.Cache.Path == "" {
			return fmt.Errorf("sqlite cache requires a path")
		}
	default:
		return fmt.Errorf("invalid cache type: %s", c.Cache.Type)
	}

	if !IsValidMode(c.Assign.Mode) {
		return fmt.Errorf("invalid assign mode: %q", c.Assign.Mode)
	}
	if _, err := time.LoadLocation(c.Assign.Timezone); err != nil {
		return fmt.Errorf("invalid assign timezone %q: %w", c.Assign.Timezone, err)
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ActiveProvider returns the settings of the selected provider.
func (c *Config) ActiveProvider() ProviderConfig {
	switch c.LLM.Provider {
	case ProviderAnthropic:
		return c.Providers.Anthropic
	case ProviderGroq:
		return c.Providers.Groq
	case ProviderLocal:
		return c.Providers.Local
	default:
		return c.Providers.OpenAI
	}
}

// HasValidCredentials reports whether the active provider can be called.
// The local provider needs an endpoint instead of a key.
func (c *Config) HasValidCredentials() bool {
	p := c.ActiveProvider()
	if c.LLM.Provider == ProviderLocal {
		return strings.TrimSpace(p.Endpoint) != ""
	}
	return strings.TrimSpace(p.APIKey) != ""
}
