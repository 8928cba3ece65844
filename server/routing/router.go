// Package routing assembles the quill HTTP surface: the global middleware
// stack, the versioned API routes, the websocket stream and the aggregated
// health check.
package routing

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/handlers"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/middleware"
)

// HealthCheck reports whether a component is healthy, with details shown
// on /health.
type HealthCheck func() (healthy bool, detail interface{})

// Handlers groups the endpoint implementations mounted by the router.
type Handlers struct {
	Transform  *handlers.TransformHandler
	Filters    *handlers.FilterHandler
	Identities *handlers.IdentityHandler
	Stream     http.Handler
}

// Router handles HTTP routing and health checks.
type Router struct {
	router  chi.Router
	checks  sync.Map // name -> HealthCheck
	limiter *middleware.ClientLimiter
	logger  *zap.Logger
	cfg     *config.Config
}

// NewRouter creates a router with the global middleware stack and all
// routes. m may be nil, in which case /metrics is not served.
func NewRouter(cfg *config.Config, h Handlers, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := &Router{
		router: chi.NewRouter(),
		logger: logger,
		cfg:    cfg,
	}
	if cfg.Server.ClientRateLimit.Enabled {
		r.limiter = middleware.NewClientLimiter(cfg.Server.ClientRateLimit, m)
	}

	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.Recovery(logger))
	r.router.Use(middleware.Logging(logger))
	if m != nil {
		r.router.Use(middleware.PrometheusMetrics(m))
	}
	r.router.Use(middleware.CORS)

	r.router.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewNotFoundError(middleware.GetRequestID(req.Context()), "route not found"))
	})
	r.router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.BadRequestError, "method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(req.Context()), nil, nil))
	})

	r.router.Get("/health", r.globalHealthCheckHandler())
	if m != nil {
		registerMetricsRoutes(r.router, m)
	}
	r.router.Route("/v1", func(v1 chi.Router) {
		r.setupAPIRoutes(v1, h)
	})
	return r
}

func (r *Router) setupAPIRoutes(api chi.Router, h Handlers) {
	api.Use(middleware.Authentication(r.cfg.Server.APIKeys))
	if r.limiter != nil {
		api.Use(r.limiter.Middleware)
	}

	// The stream outlives any request timeout.
	if h.Stream != nil {
		api.Get("/stream", h.Stream.ServeHTTP)
	}

	api.Group(func(rest chi.Router) {
		rest.Use(middleware.Timeout(r.cfg.Server.WriteTimeout))

		if h.Transform != nil {
			rest.Post("/transform", h.Transform.Transform)
			rest.Post("/history", h.Transform.History)
		}
		if h.Filters != nil {
			rest.Get("/filters", h.Filters.List)
			rest.Post("/filters", h.Filters.Create)
			rest.Post("/filters/reload", h.Filters.Reload)
			rest.Get("/filters/{name}", h.Filters.Get)
			rest.Delete("/filters/{name}", h.Filters.Delete)
			rest.Put("/filters/{name}/enabled", h.Filters.SetEnabled)
		}
		if h.Identities != nil {
			rest.Get("/assign", h.Identities.Mode)
			rest.Put("/assign/mode", h.Identities.SetMode)
			rest.Post("/assign/unpin", h.Identities.UnpinAll)
			rest.Get("/identities", h.Identities.List)
			rest.Get("/identities/{identity}", h.Identities.Get)
			rest.Patch("/identities/{identity}", h.Identities.Update)
			rest.Delete("/identities/{identity}", h.Identities.Delete)
			rest.Post("/identities/{identity}/reroll", h.Identities.Reroll)
			rest.Delete("/identities/{identity}/session", h.Identities.EndSession)
		}
	})
}

// RegisterHealthCheck adds or replaces a named component check.
func (r *Router) RegisterHealthCheck(name string, check HealthCheck) {
	r.checks.Store(name, check)
}

// ClientLimiter returns the per-client limiter, or nil when disabled.
func (r *Router) ClientLimiter() *middleware.ClientLimiter {
	return r.limiter
}

// globalHealthCheckHandler aggregates every registered check. Any unhealthy
// component turns the response into a 503.
func (r *Router) globalHealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		allHealthy := true
		services := make(map[string]interface{})
		var unhealthy []string

		r.checks.Range(func(key, value interface{}) bool {
			name := key.(string)
			healthy, detail := value.(HealthCheck)()
			if !healthy {
				allHealthy = false
				unhealthy = append(unhealthy, name)
			}
			services[name] = map[string]interface{}{"healthy": healthy, "detail": detail}
			return true
		})

		if !allHealthy {
			sort.Strings(unhealthy)
			r.logger.Warn("health check failed", zap.Strings("services", unhealthy))
		}

		code := http.StatusOK
		if !allHealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    map[string]bool{"global": allHealthy},
			"services":  services,
			"timestamp": time.Now().UTC(),
		})
	}
}

// ServeHTTP implements the http.Handler interface.
// Delegates request handling to the underlying Chi router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
