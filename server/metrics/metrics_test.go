package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolated(t *testing.T) {
	// Each instance owns its registry, so two can coexist.
	a := NewMetrics()
	b := NewMetrics()

	a.Transformations.WithLabelValues("PIRATE", "transformed").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Transformations.WithLabelValues("PIRATE", "transformed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Transformations.WithLabelValues("PIRATE", "transformed")))
}

func TestRegistryAcceptsExtraCollectors(t *testing.T) {
	m := NewMetrics()
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "quill_test_extra_total", Help: "test"})
	require.NoError(t, m.Registry().Register(extra))
	extra.Inc()

	n, err := testutil.GatherAndCount(m.Registry(), "quill_test_extra_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.CacheLookups.WithLabelValues("hit").Inc()
	m.QueueDepth.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quill_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, string(body), `quill_queue_depth 3`)
	assert.Contains(t, string(body), `quill_http_requests_total{endpoint="/health",status="200"} 0`)
}
