package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teilomillet/quill/config"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestKey(t *testing.T) {
	k := Key("hello", "PIRATE", "ctx")
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key("hello", "PIRATE", "ctx"))
	assert.NotEqual(t, k, Key("hello", "ROBOT", "ctx"))
	assert.NotEqual(t, k, Key("hello", "PIRATE", "other"))
	// Field boundaries matter.
	assert.NotEqual(t, Key("ab", "c", ""), Key("a", "bc", ""))
}

func TestCacheGetPut(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := &clock{t: time.Unix(1_700_000_000, 0)}
			c := New(store, 30*time.Minute, WithClock(clk.Now))

			_, ok := c.Get(ctx, "k")
			assert.False(t, ok)

			c.Put(ctx, "k", "arrr, thanks matey")
			v, ok := c.Get(ctx, "k")
			require.True(t, ok)
			assert.Equal(t, "arrr, thanks matey", v)
		})
	}
}

func TestCacheExpiredEntryIsMiss(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := &clock{t: time.Unix(1_700_000_000, 0)}
			c := New(store, time.Minute, WithClock(clk.Now))

			c.Put(ctx, "k", "v")

			clk.Advance(time.Minute)
			_, ok := c.Get(ctx, "k")
			assert.True(t, ok, "entry exactly at ttl is still valid")

			clk.Advance(time.Nanosecond)
			_, ok = c.Get(ctx, "k")
			assert.False(t, ok)

			// The expired read removed the entry.
			assert.Equal(t, 0, c.Len(ctx))
		})
	}
}

func TestCacheSweep(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := &clock{t: time.Unix(1_700_000_000, 0)}
			c := New(store, 10*time.Minute, WithClock(clk.Now))

			c.Put(ctx, "old", "1")
			clk.Advance(8 * time.Minute)
			c.Put(ctx, "new", "2")
			clk.Advance(5 * time.Minute)

			assert.Equal(t, 1, c.Sweep(ctx))
			assert.Equal(t, 1, c.Len(ctx))

			_, ok := c.Get(ctx, "new")
			assert.True(t, ok)
		})
	}
}

func TestCacheSetTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(NewMemoryStore(), time.Hour, WithClock(clk.Now))

	c.Put(ctx, "k", "v")
	clk.Advance(10 * time.Minute)

	c.SetTTL(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, c.TTL())
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	created := time.Unix(1_700_000_000, 123)
	require.NoError(t, s.Put(ctx, "k", Entry{Value: "v", CreatedAt: created}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	e, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", e.Value)
	assert.True(t, created.Equal(e.CreatedAt))
}

type failingStore struct{ MemoryStore }

var errStore = errors.New("disk on fire")

func (failingStore) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, errStore }
func (failingStore) Put(context.Context, string, Entry) error         { return errStore }
func (failingStore) DeleteOlderThan(context.Context, time.Time) (int, error) {
	return 0, errStore
}

func TestCacheStoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	c := New(&failingStore{}, time.Minute, WithLogger(zap.New(core)))

	c.Put(ctx, "k", "v")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Sweep(ctx))

	assert.Equal(t, 3, logs.Len())
}

func TestStoreDeleteKeepsNewerEntry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := Entry{Value: "old", CreatedAt: time.Unix(1_700_000_000, 0)}
			fresh := Entry{Value: "fresh", CreatedAt: old.CreatedAt.Add(time.Hour)}

			require.NoError(t, store.Put(ctx, "k", old))
			require.NoError(t, store.Put(ctx, "k", fresh))
			require.NoError(t, store.Delete(ctx, "k", old))

			e, ok, err := store.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "fresh", e.Value)

			require.NoError(t, store.Delete(ctx, "k", e))
			_, ok, err = store.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// racingStore writes a fresh entry right after handing out the stored one,
// like a Put landing between a read and the expiry delete.
type racingStore struct {
	*MemoryStore
	fresh Entry
}

func (r *racingStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	e, ok, err := r.MemoryStore.Get(ctx, key)
	if ok {
		r.MemoryStore.Put(ctx, key, r.fresh)
	}
	return e, ok, err
}

func TestExpiredReadKeepsConcurrentPut(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	mem := NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "k", Entry{Value: "stale", CreatedAt: clk.Now()}))
	clk.Advance(2 * time.Minute)

	store := &racingStore{MemoryStore: mem, fresh: Entry{Value: "fresh", CreatedAt: clk.Now()}}
	c := New(store, time.Minute, WithClock(clk.Now))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	e, ok, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", e.Value)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); c.Put(ctx, "k", "v") }()
		go func() { defer wg.Done(); c.Get(ctx, "k") }()
		go func() { defer wg.Done(); c.Sweep(ctx) }()
	}
	wg.Wait()
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(config.CacheConfig{Type: config.CacheMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = OpenStore(config.CacheConfig{Type: config.CacheSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore(config.CacheConfig{Type: "redis"})
	assert.Error(t, err)
}
