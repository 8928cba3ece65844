package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/errors"
)

func testConfig(provider, endpoint string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.TestMode = true
	cfg.LLM.Provider = provider
	cfg.LLM.Timeout = time.Second
	cfg.CircuitBreaker.FailureThreshold = 3
	cfg.CircuitBreaker.Timeout = time.Minute
	for _, p := range []*config.ProviderConfig{&cfg.Providers.OpenAI, &cfg.Providers.Anthropic, &cfg.Providers.Groq, &cfg.Providers.Local} {
		p.APIKey = "test-key"
		p.Endpoint = endpoint
	}
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(cfg, zaptest.NewLogger(t), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func chatServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCompleteOpenAI(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"\"Arr, thanks matey\""}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(config.ProviderOpenAI, srv.URL))
	text, err := c.Complete(context.Background(), "sys", "instruction")
	require.NoError(t, err)

	assert.Equal(t, "Arr, thanks matey", text)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "instruction", gjson.GetBytes(gotBody, "messages.1.content").String())

	h := c.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(1), h.RequestCount)
	assert.Equal(t, "closed", h.CircuitState)
}

func TestCompleteAnthropic(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Good day"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(config.ProviderAnthropic, srv.URL))
	text, err := c.Complete(context.Background(), "sys", "instruction")
	require.NoError(t, err)
	assert.Equal(t, "Good day", text)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errors.ErrorType
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, errors.NonSuccessStatus},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, errors.NonSuccessStatus},
		{"not json", http.StatusOK, `<html>`, errors.MalformedResponse},
		{"missing content", http.StatusOK, `{"choices":[]}`, errors.MalformedResponse},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"  \"\"  "}}]}`, errors.MalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := chatServer(t, tt.status, tt.body)
			c := newTestClient(t, testConfig(config.ProviderOpenAI, srv.URL))

			_, err := c.Complete(context.Background(), "sys", "user")
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.TypeOf(err))
			assert.True(t, errors.IsRetryable(err))

			var qe *errors.QuillError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.body, qe.Body())
		})
	}
}

func TestCompleteWithoutCredentials(t *testing.T) {
	srv, calls := chatServer(t, http.StatusOK, `{}`)
	cfg := testConfig(config.ProviderGroq, srv.URL)
	cfg.Providers.Groq.APIKey = ""

	c := newTestClient(t, cfg)
	assert.False(t, c.HasCredentials())

	_, err := c.Complete(context.Background(), "sys", "user")
	assert.Equal(t, errors.NoCredentials, errors.TypeOf(err))
	assert.False(t, errors.IsRetryable(err))
	assert.Zero(t, calls.Load())
	assert.False(t, c.Health().Healthy)
}

func TestCompleteNetworkFailure(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	c := newTestClient(t, testConfig(config.ProviderOpenAI, url))
	_, err := c.Complete(context.Background(), "sys", "user")
	assert.Equal(t, errors.NetworkFailure, errors.TypeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestCompleteAttemptTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(config.ProviderOpenAI, srv.URL)
	cfg.LLM.Timeout = 50 * time.Millisecond
	c := newTestClient(t, cfg)

	_, err := c.Complete(context.Background(), "sys", "user")
	assert.Equal(t, errors.NetworkFailure, errors.TypeOf(err))
}

func TestCompleteCallerContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, testConfig(config.ProviderOpenAI, srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "sys", "user")
	assert.Equal(t, errors.Timeout, errors.TypeOf(err))
	assert.False(t, errors.IsRetryable(err))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, "sys", "user")
	assert.Equal(t, errors.Interrupted, errors.TypeOf(err))

	// Caller-side failures do not count against the provider.
	assert.Equal(t, 0, c.Health().ConsecutiveFails)
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	srv, calls := chatServer(t, http.StatusServiceUnavailable, `overloaded`)
	c := newTestClient(t, testConfig(config.ProviderOpenAI, srv.URL))

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), "sys", "user")
		assert.Equal(t, errors.NonSuccessStatus, errors.TypeOf(err))
	}

	_, err := c.Complete(context.Background(), "sys", "user")
	assert.Equal(t, errors.CircuitOpen, errors.TypeOf(err))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())

	h := c.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, "open", h.CircuitState)
	assert.Equal(t, 3, h.ConsecutiveFails)
}

func TestCompletePacing(t *testing.T) {
	srv, calls := chatServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	cfg := testConfig(config.ProviderOpenAI, srv.URL)
	cfg.LLM.RequestsPerSecond = 1
	c := newTestClient(t, cfg)

	_, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)

	// The bucket is empty and the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "sys", "user")
	assert.Equal(t, errors.Timeout, errors.TypeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMetricsAndReplacement(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	cfg := testConfig(config.ProviderOpenAI, srv.URL)
	cfg.TestMode = false

	first, err := NewClient(cfg, zaptest.NewLogger(t), registry, WithMetrics(metrics))
	require.NoError(t, err)

	_, err = first.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("openai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.healthyProvider.WithLabelValues("openai")))

	// A second client for the same provider needs the first one closed.
	_, err = NewClient(cfg, zaptest.NewLogger(t), registry, WithMetrics(metrics))
	require.Error(t, err)

	first.Close()
	second, err := NewClient(cfg, zaptest.NewLogger(t), registry, WithMetrics(metrics))
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("openai", "success")))
}
