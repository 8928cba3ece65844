// Package history keeps a short per-identity record of recent messages used
// as conversation context for transformations.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one remembered message.
type Entry struct {
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Transformed bool      `json:"transformed"`
}

// History holds a bounded FIFO of entries per identity. An identity whose
// newest entry is older than the staleness window is treated as having no
// history and is removed by Sweep.
type History struct {
	capacity   atomic.Int64
	staleAfter atomic.Int64 // nanoseconds
	now        func() time.Time
	buffers    sync.Map // identity -> *buffer
}

type buffer struct {
	mu      sync.Mutex
	entries []Entry
	dead    bool
}

// Option configures a History.
type Option func(*History)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New creates a history keeping capacity entries per identity.
func New(capacity int, staleAfter time.Duration, opts ...Option) *History {
	h := &History{now: time.Now}
	h.SetLimits(capacity, staleAfter)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetLimits changes capacity and staleness. Longer buffers are trimmed on
// their next append.
func (h *History) SetLimits(capacity int, staleAfter time.Duration) {
	if capacity < 1 {
		capacity = 1
	}
	h.capacity.Store(int64(capacity))
	h.staleAfter.Store(int64(staleAfter))
}

func (h *History) stale(b *buffer, now time.Time) bool {
	if len(b.entries) == 0 {
		return true
	}
	newest := b.entries[len(b.entries)-1].Timestamp
	return now.Sub(newest) > time.Duration(h.staleAfter.Load())
}

// Append records content for identity, evicting the oldest entry on overflow.
func (h *History) Append(identity, content string, transformed bool) {
	for {
		v, _ := h.buffers.LoadOrStore(identity, &buffer{})
		b := v.(*buffer)

		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		now := h.now()
		if h.stale(b, now) {
			b.entries = b.entries[:0]
		}
		b.entries = append(b.entries, Entry{Content: content, Timestamp: now, Transformed: transformed})
		if over := len(b.entries) - int(h.capacity.Load()); over > 0 {
			b.entries = append(b.entries[:0:0], b.entries[over:]...)
		}
		b.mu.Unlock()
		return
	}
}

// Entries returns a copy of identity's entries, oldest first.
func (h *History) Entries(identity string) []Entry {
	v, ok := h.buffers.Load(identity)
	if !ok {
		return nil
	}
	b := v.(*buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.stale(b, h.now()) {
		return nil
	}
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// RecentOriginals returns the untransformed messages of identity, oldest first.
func (h *History) RecentOriginals(identity string) []string {
	var out []string
	for _, e := range h.Entries(identity) {
		if !e.Transformed {
			out = append(out, e.Content)
		}
	}
	return out
}

// ContextHash summarises the recent originals of identity. It is empty
// when there is no context.
func (h *History) ContextHash(identity string) string {
	return HashOf(h.RecentOriginals(identity))
}

// HashOf summarises a snapshot of originals, as returned by
// RecentOriginals. It is empty for an empty snapshot.
func HashOf(originals []string) string {
	if len(originals) == 0 {
		return ""
	}
	sum := sha256.New()
	for _, o := range originals {
		sum.Write([]byte(o))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))[:16]
}

// Clear forgets identity.
func (h *History) Clear(identity string) {
	if v, ok := h.buffers.LoadAndDelete(identity); ok {
		b := v.(*buffer)
		b.mu.Lock()
		b.dead = true
		b.mu.Unlock()
	}
}

// Sweep removes stale identities and returns how many were removed.
func (h *History) Sweep() int {
	now := h.now()
	removed := 0
	h.buffers.Range(func(key, v any) bool {
		b := v.(*buffer)
		b.mu.Lock()
		if h.stale(b, now) {
			b.dead = true
			h.buffers.CompareAndDelete(key, v)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked identities.
func (h *History) Len() int {
	n := 0
	h.buffers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
