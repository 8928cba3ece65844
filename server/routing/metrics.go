package routing

import (
	"github.com/go-chi/chi/v5"

	"github.com/teilomillet/quill/server/metrics"
)

// registerMetricsRoutes adds routes for Prometheus metrics
func registerMetricsRoutes(r chi.Router, m *metrics.Metrics) {
	r.Handle("/metrics", m.Handler())
}
