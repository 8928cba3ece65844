// Package cache stores transformed messages keyed by message, filter and
// conversation context.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teilomillet/quill/config"
)

// Entry is one cached transformation. Entries are never mutated.
type Entry struct {
	Value     string
	CreatedAt time.Time
}

// Store is the persistence layer behind Cache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	// Delete removes key only while it still holds e, so an entry written
	// concurrently under the same key survives.
	Delete(ctx context.Context, key string, e Entry) error
	// DeleteOlderThan removes entries created before cutoff and returns how many.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps entries in a sync.Map. It is lost on restart.
type MemoryStore struct {
	entries sync.Map // key -> Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	m.entries.Store(key, e)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string, e Entry) error {
	m.entries.CompareAndDelete(key, e)
	return nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	m.entries.Range(func(key, v any) bool {
		if v.(Entry).CreatedAt.Before(cutoff) && m.entries.CompareAndDelete(key, v) {
			removed++
		}
		return true
	})
	return removed, nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

// OpenStore returns the store selected by cfg.Type. An unknown type is an
// error.
func OpenStore(cfg config.CacheConfig) (Store, error) {
	switch cfg.Type {
	case "", config.CacheMemory:
		return NewMemoryStore(), nil
	case config.CacheSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
