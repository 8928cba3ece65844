package provider

import "github.com/prometheus/client_golang/prometheus"

// Metrics are shared by every Client built over the server's lifetime, so a
// reload that replaces the client keeps the same series.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	healthyProvider *prometheus.GaugeVec
}

// NewMetrics creates the provider collectors and registers them on registry
// when it is not nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_provider_requests_total",
			Help: "Provider requests by provider and result",
		}, []string{"provider", "result"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_provider_request_latency_seconds",
			Help:    "Latency of provider requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		healthyProvider: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quill_provider_healthy",
			Help: "Whether the provider is currently healthy (1) or not (0)",
		}, []string{"provider"}),
	}
	if registry != nil {
		registry.MustRegister(m.requests, m.requestLatency, m.healthyProvider)
	}
	return m
}

func (m *Metrics) observe(provider string, result string, seconds float64) {
	m.requests.WithLabelValues(provider, result).Inc()
	if seconds > 0 {
		m.requestLatency.WithLabelValues(provider).Observe(seconds)
	}
}

func (m *Metrics) setHealthy(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.healthyProvider.WithLabelValues(provider).Set(v)
}
