package routing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/handlers"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/mocks"
	"github.com/teilomillet/quill/server/transform"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transform.Workers = 1
	cfg.Transform.QueueSize = 4
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, m *metrics.Metrics) *Router {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog, err := filter.NewCatalog("", logger)
	require.NoError(t, err)

	llm := mocks.NewMockCompleter(func(ctx context.Context, system, user string) (string, error) {
		return "Arr matey", nil
	})
	assigner, err := assign.New(cfg.Assign, catalog, assign.WithLogger(logger))
	require.NoError(t, err)
	orch := transform.New(cfg, catalog, llm, logger, transform.WithAssigner(assigner))
	t.Cleanup(func() { require.NoError(t, orch.Close()) })

	return NewRouter(cfg, Handlers{
		Transform:  handlers.NewTransformHandler(orch, logger),
		Filters:    handlers.NewFilterHandler(catalog, logger),
		Identities: handlers.NewIdentityHandler(assigner, logger),
		Stream:     handlers.NewStreamHandler(orch, m, logger, nil),
	}, m, logger)
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// TestRouter_Routes checks that every API route is mounted with its method.
func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)

	rec := serve(router, http.MethodPost, "/v1/transform", `{"identity":"a","message":"hello","filter":"PIRATE"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Arr matey")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/filters", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/filters/PIRATE", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/v1/history", `{"identity":"a","message":"hi"}`, nil).Code)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/v1/transform", `{"identity":"b","message":"hello"}`, nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/assign", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/v1/assign/mode", `{"mode":"chaos"}`, nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/v1/assign/unpin", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/identities", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPatch, "/v1/identities/b", `{"enabled":true}`, nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/identities/b", "", nil).Code)
	assert.Equal(t, http.StatusConflict, serve(router, http.MethodPost, "/v1/identities/b/reroll", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/v1/identities/b/session", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/v1/identities/b", "", nil).Code)

	// Unknown routes and wrong methods use the JSON error format.
	rec = serve(router, http.MethodGet, "/v2/transform", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)

	rec = serve(router, http.MethodGet, "/v1/transform", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// TestRouter_Authentication checks that /v1 requires a key when keys are configured
// and that /health stays open.
func TestRouter_Authentication(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKeys = []string{"secret"}
	router := newTestRouter(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/filters", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/filters", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/filters", "", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", nil).Code)
}

// TestRouter_ClientRateLimit checks the per-client bucket on API routes.
func TestRouter_ClientRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ClientRateLimit = config.ClientRateLimitConfig{Enabled: true, RequestsPerSecond: 0.1, Burst: 2}
	router := newTestRouter(t, cfg, nil)
	require.NotNil(t, router.ClientLimiter())

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/filters", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/filters", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/v1/filters", "", nil).Code)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", nil).Code)

	assert.Nil(t, newTestRouter(t, testConfig(), nil).ClientLimiter())
}

// TestRouter_HealthCheck tests aggregation of registered component checks.
func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)
	router.RegisterHealthCheck("cache", func() (bool, interface{}) { return true, map[string]int{"entries": 3} })

	rec := serve(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   map[string]bool                   `json:"status"`
		Services map[string]map[string]interface{} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Status["global"])
	assert.Equal(t, true, body.Services["cache"]["healthy"])

	router.RegisterHealthCheck("provider", func() (bool, interface{}) { return false, "circuit open" })
	rec = serve(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Status["global"])
	assert.Equal(t, "circuit open", body.Services["provider"]["detail"])
}

// TestRouter_Metrics tests the metrics endpoint and route labelling.
func TestRouter_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	router := newTestRouter(t, testConfig(), m)

	serve(router, http.MethodGet, "/v1/filters/PIRATE", "", nil)
	serve(router, http.MethodGet, "/v1/filters/NOPE", "", nil)
	m.RateLimitHits.WithLabelValues("client").Inc()

	srv := httptest.NewServer(router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, metric := range []string{
		`quill_http_requests_total{endpoint="/v1/filters/{name}",status="200"} 1`,
		`quill_errors_total{type="client_error"} 1`,
		`quill_rate_limit_hits_total{limiter="client"} 1`,
		"quill_stream_connections",
	} {
		assert.Contains(t, string(body), metric)
	}

	// Without metrics the endpoint is not mounted.
	assert.Equal(t, http.StatusNotFound, serve(newTestRouter(t, testConfig(), nil), http.MethodGet, "/metrics", "", nil).Code)
}

func TestRouter_NopLogger(t *testing.T) {
	router := NewRouter(testConfig(), Handlers{}, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/v1/transform", "{}", nil).Code)
}
