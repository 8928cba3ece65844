// Package server assembles the quill transformation service: filter
// catalog, response cache, provider client, orchestrator and HTTP surface.
// It applies configuration changes from a config.Watcher while running.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/cache"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/handlers"
	"github.com/teilomillet/quill/server/metrics"
	"github.com/teilomillet/quill/server/provider"
	"github.com/teilomillet/quill/server/routing"
	"github.com/teilomillet/quill/server/transform"
)

// clientIdleTimeout is how long an HTTP client's token bucket is kept
// without traffic.
const clientIdleTimeout = 10 * time.Minute

// Server represents the HTTP server
type Server struct {
	watcher         config.Watcher
	logger          *zap.Logger
	level           *zap.AtomicLevel
	metrics         *metrics.Metrics
	providerMetrics *provider.Metrics
	providerOpts    []provider.Option
	catalog         *filter.Catalog
	orch            *transform.Orchestrator
	handlers        routing.Handlers

	restart chan struct{}

	mu     sync.RWMutex
	cfg    *config.Config
	client *provider.Client
	router *routing.Router
	addr   net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithLevel lets configuration reloads change the log level.
func WithLevel(level zap.AtomicLevel) Option {
	return func(s *Server) { s.level = &level }
}

// WithProviderHTTPClient replaces the HTTP client used for provider calls.
func WithProviderHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.providerOpts = append(s.providerOpts, provider.WithHTTPClient(hc)) }
}

// NewServer creates a server that watches configPath for changes.
func NewServer(configPath string, logger *zap.Logger, opts ...Option) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewServerWithConfig(watcher, logger, opts...)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithConfig creates a server from the watcher's current
// configuration.
func NewServerWithConfig(watcher config.Watcher, logger *zap.Logger, opts ...Option) (*Server, error) {
	cfg := watcher.GetCurrentConfig()
	s := &Server{
		watcher: watcher,
		logger:  logger,
		metrics: metrics.NewMetrics(),
		restart: make(chan struct{}, 1),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.providerMetrics = provider.NewMetrics(s.metrics.Registry())

	catalog, err := filter.NewCatalog(cfg.Filters.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("load filters: %w", err)
	}
	s.catalog = catalog

	store, err := cache.OpenStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	client, err := s.newClient(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	s.client = client

	assigner, err := assign.New(cfg.Assign, catalog, assign.WithLogger(logger))
	if err != nil {
		store.Close()
		client.Close()
		return nil, fmt.Errorf("create filter assigner: %w", err)
	}

	s.orch = transform.New(cfg, catalog, client, logger,
		transform.WithAssigner(assigner),
		transform.WithCacheStore(store),
		transform.WithMetrics(s.metrics),
		transform.WithTokenCounter(transform.NewTokenCounter(logger)),
	)

	s.handlers = routing.Handlers{
		Transform:  handlers.NewTransformHandler(s.orch, logger),
		Filters:    handlers.NewFilterHandler(catalog, logger),
		Identities: handlers.NewIdentityHandler(assigner, logger),
		Stream:     handlers.NewStreamHandler(s.orch, s.metrics, logger, nil),
	}
	s.router = s.newRouter(cfg)

	logger.Info("server initialized", cfg.StatusFields()...)
	return s, nil
}

func (s *Server) newClient(cfg *config.Config) (*provider.Client, error) {
	opts := append([]provider.Option{provider.WithMetrics(s.providerMetrics)}, s.providerOpts...)
	return provider.NewClient(cfg, s.logger, s.metrics.Registry(), opts...)
}

func (s *Server) newRouter(cfg *config.Config) *routing.Router {
	r := routing.NewRouter(cfg, s.handlers, s.metrics, s.logger)
	r.RegisterHealthCheck("provider", func() (bool, interface{}) {
		h := s.currentClient().Health()
		return h.Healthy, h
	})
	r.RegisterHealthCheck("filters", func() (bool, interface{}) {
		return s.catalog.Len() > 0, map[string]int{
			"count":   s.catalog.Len(),
			"enabled": len(s.catalog.Enabled()),
		}
	})
	r.RegisterHealthCheck("state", func() (bool, interface{}) {
		return true, map[string]interface{}{
			"identities":  s.orch.Limiter().Len(),
			"histories":   s.orch.History().Len(),
			"assignments": len(s.orch.Assigner().All()),
			"mode":        s.orch.Assigner().Mode(),
		}
	})
	return r
}

func (s *Server) currentClient() *provider.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Handler returns the current HTTP handler.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Orchestrator exposes the transformation pipeline.
func (s *Server) Orchestrator() *transform.Orchestrator {
	return s.orch
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start serves HTTP and applies configuration updates until ctx ends, then
// shuts down gracefully and releases every component.
func (s *Server) Start(ctx context.Context) error {
	updates := s.watcher.Subscribe()
	s.orch.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serve(gctx) })
	g.Go(func() error { return s.watch(gctx, updates) })
	g.Go(func() error { return s.sweepClients(gctx) })

	err := g.Wait()
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

// serve runs the HTTP server, restarting it when server settings change.
func (s *Server) serve(ctx context.Context) error {
	for {
		s.mu.RLock()
		cfg, router := s.cfg.Server, s.router
		s.mu.RUnlock()

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
		}
		srv := &http.Server{
			Handler:        router,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(s.logger),
			BaseContext:    func(net.Listener) context.Context { return ctx },
		}

		s.mu.Lock()
		s.addr = ln.Addr()
		s.mu.Unlock()
		s.logger.Info("Server started", zap.String("address", ln.Addr().String()))

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			s.logger.Info("Shutting down server")
			return s.shutdown(srv, cfg.ShutdownTimeout, errCh)
		case <-s.restart:
			s.logger.Info("Restarting server with new settings", zap.Int("port", cfg.Port))
			if err := s.shutdown(srv, cfg.ShutdownTimeout, errCh); err != nil {
				return err
			}
		}
	}
}

func (s *Server) shutdown(srv *http.Server, timeout time.Duration, errCh <-chan error) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// watch applies configuration updates until ctx ends.
func (s *Server) watch(ctx context.Context, updates <-chan *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			s.applyConfig(cfg)
		}
	}
}

// applyConfig swaps in a new configuration. The provider client is
// rebuilt when provider settings change; the HTTP server restarts when
// server settings change. Filters path and cache type need a restart of
// the process.
func (s *Server) applyConfig(cfg *config.Config) {
	s.mu.RLock()
	old := s.cfg
	s.mu.RUnlock()
	if cfg == old {
		return
	}

	var client *provider.Client
	if providerChanged(old, cfg) {
		current := s.currentClient()
		// Breaker metric names are per provider, so the old client must
		// release them first.
		current.Close()
		next, err := s.newClient(cfg)
		if err != nil {
			if rerr := current.Reopen(); rerr != nil {
				s.logger.Warn("failed to restore provider metrics", zap.Error(rerr))
			}
			// The whole config is rejected so the next reload retries.
			s.logger.Error("failed to create provider client, keeping the previous configuration", zap.Error(err))
			return
		}
		client = next
	}

	if client != nil {
		s.orch.Reload(cfg, client)
	} else {
		s.orch.Reload(cfg, nil)
	}

	serverChanged := !cmp.Equal(old.Server, cfg.Server)

	s.mu.Lock()
	s.cfg = cfg
	if client != nil {
		s.client = client
	}
	s.mu.Unlock()
	if serverChanged {
		router := s.newRouter(cfg)
		s.mu.Lock()
		s.router = router
		s.mu.Unlock()
	}

	if s.level != nil {
		if lvl, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			s.level.SetLevel(lvl)
		}
	}
	if cfg.Filters.Path != old.Filters.Path || cfg.Cache.Type != old.Cache.Type || cfg.Cache.Path != old.Cache.Path {
		s.logger.Warn("filters path and cache store changes take effect after a restart")
	}
	if serverChanged {
		select {
		case s.restart <- struct{}{}:
		default:
		}
	}
	s.logger.Info("configuration applied", cfg.StatusFields()...)
}

func providerChanged(old, cfg *config.Config) bool {
	return !cmp.Equal(old.LLM, cfg.LLM) ||
		!cmp.Equal(old.Providers, cfg.Providers) ||
		!cmp.Equal(old.CircuitBreaker, cfg.CircuitBreaker) ||
		old.Logging.DetailedLLM != cfg.Logging.DetailedLLM
}

// sweepClients forgets idle HTTP clients of the per-client limiter.
func (s *Server) sweepClients(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.RLock()
			limiter := s.router.ClientLimiter()
			s.mu.RUnlock()
			if limiter != nil {
				if n := limiter.Sweep(clientIdleTimeout); n > 0 {
					s.logger.Debug("forgot idle clients", zap.Int("count", n))
				}
			}
		}
	}
}

func (s *Server) close() error {
	err := s.orch.Close()
	s.currentClient().Close()
	if werr := s.watcher.Close(); err == nil {
		err = werr
	}
	return err
}
