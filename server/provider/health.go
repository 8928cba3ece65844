package provider

import (
	"sync"
	"time"
)

// HealthStatus represents the current health state of a provider
type HealthStatus struct {
	Healthy          bool          `json:"healthy"`
	Credentials      bool          `json:"credentials"`
	CircuitState     string        `json:"circuit_state"`
	LastCheck        time.Time     `json:"last_check"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	Latency          time.Duration `json:"latency"`
	ErrorCount       int64         `json:"error_count"`
	RequestCount     int64         `json:"request_count"`
}

// healthTracker accumulates request outcomes for one client.
type healthTracker struct {
	mu     sync.Mutex
	status HealthStatus
}

func (t *healthTracker) record(at time.Time, latency time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastCheck = at
	t.status.Latency = latency
	t.status.RequestCount++
	if failed {
		t.status.ErrorCount++
		t.status.ConsecutiveFails++
	} else {
		t.status.ConsecutiveFails = 0
	}
}

func (t *healthTracker) snapshot() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
