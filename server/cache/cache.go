package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cache is a best-effort TTL cache over a Store. Store failures are logged
// and reported as a miss or a no-op; they never fail the caller.
type Cache struct {
	store  Store
	ttl    atomic.Int64 // nanoseconds
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New wraps store with the given ttl.
func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now, logger: zap.NewNop()}
	c.ttl.Store(int64(ttl))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a message transformed by filterName under
// the given conversation context.
func Key(message, filterName, contextHash string) string {
	h := sha256.New()
	for _, part := range []string{message, filterName, contextHash} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TTL returns the current time to live.
func (c *Cache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// SetTTL changes the time to live for reads and sweeps from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

// Get returns the cached value for key. Expired entries are a miss and
// are removed opportunistically.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	if c.now().Sub(e.CreatedAt) > c.TTL() {
		if err := c.store.Delete(ctx, key, e); err != nil {
			c.logger.Debug("cache delete failed", zap.Error(err))
		}
		return "", false
	}
	return e.Value, true
}

// Put stores value under key stamped with the current time.
func (c *Cache) Put(ctx context.Context, key, value string) {
	if err := c.store.Put(ctx, key, Entry{Value: value, CreatedAt: c.now()}); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) int {
	n, err := c.store.DeleteOlderThan(ctx, c.now().Add(-c.TTL()))
	if err != nil {
		c.logger.Warn("cache sweep failed", zap.Error(err))
		return 0
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len(ctx context.Context) int {
	n, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn("cache size query failed", zap.Error(err))
		return 0
	}
	return n
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}
