// Package ratelimit implements a per-identity sliding window limiter.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue/v2"
)

// Limiter admits at most limit calls per identity within any trailing
// window. Each identity owns its own lock; there is no global lock on the
// hot path.
type Limiter struct {
	limit   atomic.Int64
	window  time.Duration
	now     func() time.Time
	windows sync.Map // identity -> *slidingWindow
}

type slidingWindow struct {
	mu    sync.Mutex
	stamp *queue.Queue[time.Time] // admitted call times, oldest first
	dead  bool                    // removed by Sweep
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting limit calls per window.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{window: window, now: time.Now}
	l.limit.Store(int64(limit))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimit changes the ceiling. It applies to the next call of every identity.
func (l *Limiter) SetLimit(limit int) {
	l.limit.Store(int64(limit))
}

// Limit returns the current ceiling.
func (l *Limiter) Limit() int {
	return int(l.limit.Load())
}

// TryAcquire records a call for identity and reports whether it is admitted.
// Denied calls are not recorded.
func (l *Limiter) TryAcquire(identity string) bool {
	for {
		v, _ := l.windows.LoadOrStore(identity, &slidingWindow{stamp: queue.New[time.Time]()})
		w := v.(*slidingWindow)

		w.mu.Lock()
		if w.dead {
			// Swept between load and lock; take the replacement.
			w.mu.Unlock()
			continue
		}
		now := l.now()
		w.evict(now.Add(-l.window))
		ok := int64(w.stamp.Length()) < l.limit.Load()
		if ok {
			w.stamp.Add(now)
		}
		w.mu.Unlock()
		return ok
	}
}

// Remaining returns how many more calls identity may make right now.
func (l *Limiter) Remaining(identity string) int {
	limit := l.Limit()
	v, ok := l.windows.Load(identity)
	if !ok {
		return limit
	}
	w := v.(*slidingWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(l.now().Add(-l.window))
	if n := limit - w.stamp.Length(); n > 0 {
		return n
	}
	return 0
}

// evict drops stamps at or before cutoff. Caller holds w.mu.
func (w *slidingWindow) evict(cutoff time.Time) {
	for w.stamp.Length() > 0 && !w.stamp.Peek().After(cutoff) {
		w.stamp.Remove()
	}
}

// Sweep drops identities whose windows have fully expired and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)
	removed := 0
	l.windows.Range(func(key, v any) bool {
		w := v.(*slidingWindow)
		w.mu.Lock()
		w.evict(cutoff)
		if w.stamp.Length() == 0 {
			w.dead = true
			l.windows.CompareAndDelete(key, v)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	n := 0
	l.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
