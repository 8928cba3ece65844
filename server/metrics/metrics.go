package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec

	// Transformation pipeline
	Transformations        *prometheus.CounterVec
	TransformationDuration *prometheus.HistogramVec
	ProviderAttempts       *prometheus.CounterVec
	CacheLookups           *prometheus.CounterVec
	CacheEvictions         prometheus.Counter
	FollowUps              prometheus.Counter
	Deduplicated           prometheus.Counter
	QueueDepth             prometheus.Gauge
	StreamConnections      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quill_http_active_requests",
				Help: "Number of currently active HTTP requests by method",
			},
			[]string{"method"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_rate_limit_hits_total",
				Help: "Total number of rate limit hits by limiter",
			},
			[]string{"limiter"},
		),
		Transformations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_transformations_total",
				Help: "Transformations by filter and outcome",
			},
			[]string{"filter", "outcome"},
		),
		TransformationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_transformation_duration_seconds",
				Help:    "End to end duration of transformations",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_provider_attempts_total",
				Help: "Provider attempts made by the retry loop, by result",
			},
			[]string{"result"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_cache_lookups_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_cache_evictions_total",
				Help: "Expired cache entries removed by the sweeper",
			},
		),
		FollowUps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_follow_ups_total",
				Help: "Quote preservation follow-up messages produced",
			},
		),
		Deduplicated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quill_deduplicated_requests_total",
				Help: "Number of deduplicated requests",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_queue_depth",
				Help: "Transformations waiting for a worker",
			},
		),
		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "quill_stream_connections",
				Help: "Open websocket stream connections",
			},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize some default metrics
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	for _, result := range []string{"hit", "miss"} {
		m.CacheLookups.WithLabelValues(result).Add(0)
	}

	return m
}

// Registry exposes the registry so other components can register their
// own collectors on it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false, // Disable OpenMetrics format to avoid escaping=values
	})
}
