package provider

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/circuitbreaker"
)

// maxResponseBytes bounds how much of a provider answer is read.
const maxResponseBytes = 1 << 20

// Client sends completion requests to the configured provider. One attempt
// per Complete call; retries belong to the caller.
type Client struct {
	kind        Kind
	adapter     Adapter
	apiKey      string
	endpoint    string
	model       ModelConfig
	timeout     time.Duration
	credentials bool
	detailed    bool

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *Metrics
	logger     *zap.Logger
	health     healthTracker
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics reports requests to shared provider metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a client for cfg's active provider. The circuit breaker
// registers its metrics on registry; Close releases them.
func NewClient(cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := Kind(cfg.LLM.Provider)
	adapter, err := NewAdapter(kind, cfg.LLM.AnthropicVersion)
	if err != nil {
		return nil, err
	}
	active := cfg.ActiveProvider()

	c := &Client{
		kind:        adapter.Kind(),
		adapter:     adapter,
		apiKey:      active.APIKey,
		endpoint:    active.Endpoint,
		model:       ModelConfig{Model: active.Model, MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature},
		timeout:     cfg.LLM.Timeout,
		credentials: cfg.HasValidCredentials(),
		detailed:    cfg.Logging.DetailedLLM,
		httpClient:  &http.Client{},
		logger:      logger.With(zap.String("provider", string(adapter.Kind()))),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	if rps := cfg.LLM.RequestsPerSecond; rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
	}

	c.breaker, err = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:             "provider_" + string(c.kind),
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		TestMode:         cfg.TestMode || cfg.CircuitBreaker.TestMode,
		IsSuccessful:     notProviderFault,
	}, c.logger, registry)
	if err != nil {
		return nil, err
	}
	c.metrics.setHealthy(string(c.kind), c.credentials)
	return c, nil
}

// notProviderFault keeps caller-side failures out of the breaker counts.
func notProviderFault(err error) bool {
	switch errors.TypeOf(err) {
	case "", errors.Timeout, errors.Interrupted, errors.NoCredentials:
		return true
	default:
		return false
	}
}

// Name returns the provider kind.
func (c *Client) Name() string { return string(c.kind) }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model.Model }

// HasCredentials reports whether the provider can be called at all.
func (c *Client) HasCredentials() bool { return c.credentials }

// Complete sends one request and returns the cleaned completion text.
// Errors are *errors.QuillError values classified for the retry policy.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.credentials {
		return "", errors.NewNoCredentialsError(string(c.kind))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", errors.FromContext(ctxErr)
			}
			return "", errors.NewTimeoutError(err)
		}
	}

	payload, err := c.adapter.BuildPayload(system, user, c.model)
	if err != nil {
		return "", errors.NewProviderError("", "failed to build request", err)
	}
	if c.detailed {
		c.logger.Debug("LLM request", zap.String("model", c.model.Model), zap.String("system", system), zap.String("user", user))
	}

	start := time.Now()
	var text string
	err = c.breaker.Execute(func() error {
		var sendErr error
		text, sendErr = c.send(ctx, payload)
		return sendErr
	})
	latency := time.Since(start)

	if circuitbreaker.IsRejected(err) {
		c.metrics.observe(string(c.kind), "rejected", 0)
		c.metrics.setHealthy(string(c.kind), false)
		return "", errors.NewCircuitOpenError(string(c.kind), err)
	}

	failed := err != nil && !notProviderFault(err)
	c.health.record(start, latency, failed)
	c.metrics.setHealthy(string(c.kind), c.breaker.State() != gobreaker.StateOpen)
	if err != nil {
		c.metrics.observe(string(c.kind), string(errors.TypeOf(err)), latency.Seconds())
		return "", err
	}
	c.metrics.observe(string(c.kind), "success", latency.Seconds())
	if c.detailed {
		c.logger.Debug("LLM response", zap.String("text", text), zap.Duration("latency", latency))
	}
	return text, nil
}

func (c *Client) send(ctx context.Context, payload []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errors.NewProviderError("", "invalid provider endpoint", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.adapter.Authorize(req.Header, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewStatusError(resp.StatusCode, string(body))
	}

	text, err := c.adapter.Parse(body)
	if err != nil {
		return "", errors.NewMalformedResponseError(err.Error(), string(body))
	}
	text = StripSurroundingQuotes(text)
	if text == "" {
		return "", errors.NewMalformedResponseError("empty completion", string(body))
	}
	return text, nil
}

// transportError blames the caller when its own context ended, and the
// network otherwise. An expired per-attempt timeout is a network failure.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.FromContext(ctxErr)
	}
	return errors.NewNetworkError(err)
}

// Health reports the client's recent request outcomes and breaker state.
func (c *Client) Health() HealthStatus {
	s := c.health.snapshot()
	state := c.breaker.State()
	s.Credentials = c.credentials
	s.CircuitState = state.String()
	s.Healthy = c.credentials && state != gobreaker.StateOpen
	return s
}

// Close releases the breaker metrics so a replacement client can register
// its own. In-flight calls are unaffected.
func (c *Client) Close() {
	c.breaker.Close()
}

// Reopen registers the breaker metrics again after Close.
func (c *Client) Reopen() error {
	return c.breaker.Register()
}
