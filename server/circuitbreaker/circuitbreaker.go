// Package circuitbreaker guards provider calls with a gobreaker circuit
// breaker and exports its state as Prometheus metrics.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string        // Label for metrics and logs
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Time spent open before probing again
	FailureThreshold uint32        // Consecutive failures that trip the circuit
	TestMode         bool          // Skip metric registration in test mode

	// IsSuccessful classifies errors that should not count as failures,
	// such as a caller cancelling its own request. Nil counts every error.
	IsSuccessful func(err error) bool
}

// CircuitBreaker wraps gobreaker with logging and metrics.
type CircuitBreaker struct {
	name     string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	registry *prometheus.Registry

	mu         sync.Mutex
	registered bool

	isSuccessful func(error) bool

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a breaker and registers its metrics on registry
// unless TestMode is set or registry is nil.
func NewCircuitBreaker(cfg Config, logger *zap.Logger, registry *prometheus.Registry) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		isSuccessful: cfg.IsSuccessful,
	}

	labels := prometheus.Labels{"name": cfg.Name}
	cb.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "quill_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})
	cb.failuresCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "quill_circuit_breaker_failures_total",
		Help:        "Total number of failures recorded by the circuit breaker",
		ConstLabels: labels,
	})
	cb.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "quill_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: labels,
	})

	if !cfg.TestMode && registry != nil {
		cb.registry = registry
		if err := cb.Register(); err != nil {
			return nil, err
		}
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cb.onStateChange,
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = cfg.IsSuccessful
	}
	cb.breaker = gobreaker.NewCircuitBreaker(settings)

	return cb, nil
}

// onStateChange runs under the gobreaker lock and must not call back into it.
func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		cb.tripsTotal.Inc()
		cb.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs fn if the breaker allows it. A rejected call returns
// ErrCircuitOpen or ErrTooManyRequests without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && (cb.isSuccessful == nil || !cb.isSuccessful(err)) {
			cb.failuresCount.Inc()
		}
		return nil, err
	})
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the request counts of the current generation.
func (cb *CircuitBreaker) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Register adds the breaker's metrics to its registry. It is a no-op
// without a registry or when they are already registered.
func (cb *CircuitBreaker) Register() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.registry == nil || cb.registered {
		return nil
	}
	var done []prometheus.Collector
	for _, c := range []prometheus.Collector{cb.stateGauge, cb.failuresCount, cb.tripsTotal} {
		if err := cb.registry.Register(c); err != nil {
			// Unregister matches by descriptor, so only undo our own.
			for _, r := range done {
				cb.registry.Unregister(r)
			}
			return fmt.Errorf("register circuit breaker metrics: %w", err)
		}
		done = append(done, c)
	}
	cb.registered = true
	return nil
}

// Close unregisters the breaker's metrics so a replacement with the same
// name can register. Register undoes it.
func (cb *CircuitBreaker) Close() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.registered {
		return
	}
	cb.registry.Unregister(cb.stateGauge)
	cb.registry.Unregister(cb.failuresCount)
	cb.registry.Unregister(cb.tripsTotal)
	cb.registered = false
}
