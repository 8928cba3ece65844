package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for an unknown filter name.
	ErrNotFound = errors.New("filter not found")
	// ErrInvalid is returned when a definition lacks a name or prompt.
	ErrInvalid = errors.New("filter requires a name and a prompt")
)

// Catalog is the set of known filters. Reads are concurrent; writes are
// persisted to the backing JSON file when one is configured.
type Catalog struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	filters map[string]Definition
}

// NewCatalog creates a catalog backed by path and loads it. An empty path
// keeps the built-in filters in memory only.
func NewCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{path: path, logger: logger}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the filters file and merges it with the built-in filters.
// Filters present in the file win; built-ins missing from the file are
// added. An unreadable or empty file yields the built-ins. The merged set
// is written back.
func (c *Catalog) Load() error {
	loaded := c.readFile()

	defaults := Defaults()
	if len(loaded) == 0 {
		loaded = defaults
		c.logger.Info("using default filters", zap.Int("count", len(loaded)))
	} else {
		for name, def := range defaults {
			if _, ok := loaded[name]; !ok {
				loaded[name] = def
				c.logger.Info("added new default filter", zap.String("filter", name))
			}
		}
		c.logger.Info("merged file filters with defaults", zap.Int("count", len(loaded)))
	}

	c.mu.Lock()
	c.filters = loaded
	c.mu.Unlock()

	return c.Save()
}

// Reload is Load under the name used by operators.
func (c *Catalog) Reload() error {
	c.logger.Info("reloading filters", zap.String("path", c.path))
	return c.Load()
}

func (c *Catalog) readFile() map[string]Definition {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Info("filters file not found, creating defaults", zap.String("path", c.path))
		} else {
			c.logger.Error("failed to read filters file", zap.String("path", c.path), zap.Error(err))
		}
		return nil
	}

	var raw map[string]Definition
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Error("invalid filters file, using defaults", zap.String("path", c.path), zap.Error(err))
		return nil
	}

	out := make(map[string]Definition, len(raw))
	for key, def := range raw {
		name := NormalizeName(key)
		if name == "" || def.Prompt == "" {
			c.logger.Warn("skipping invalid filter", zap.String("filter", key))
			continue
		}
		def.Name = name
		out[name] = def
	}
	c.logger.Info("loaded filters", zap.String("path", c.path), zap.Int("count", len(out)))
	return out
}

// Save writes the catalog to its file. It is a no-op without a path.
func (c *Catalog) Save() error {
	if c.path == "" {
		return nil
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c.filters, "", "  ")
	count := len(c.filters)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create filters directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write filters: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace filters file: %w", err)
	}

	c.logger.Debug("saved filters", zap.String("path", c.path), zap.Int("count", count))
	return nil
}

// Get looks up a filter case-insensitively.
func (c *Catalog) Get(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.filters[NormalizeName(name)]
	return def, ok
}

// All returns every filter sorted by name.
func (c *Catalog) All() []Definition {
	return c.collect(func(Definition) bool { return true })
}

// Enabled returns the enabled filters sorted by name.
func (c *Catalog) Enabled() []Definition {
	return c.collect(func(d Definition) bool { return d.Enabled })
}

// Names returns every filter name sorted.
func (c *Catalog) Names() []string {
	return names(c.All())
}

// EnabledNames returns the enabled filter names sorted.
func (c *Catalog) EnabledNames() []string {
	return names(c.Enabled())
}

func (c *Catalog) collect(keep func(Definition) bool) []Definition {
	c.mu.RLock()
	out := make([]Definition, 0, len(c.filters))
	for _, d := range c.filters {
		if keep(d) {
			out = append(out, d)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func names(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

// Add inserts or replaces a custom filter. New filters start enabled.
func (c *Catalog) Add(name, prompt, emoji, color string) (Definition, error) {
	key := NormalizeName(name)
	if key == "" || prompt == "" {
		return Definition{}, ErrInvalid
	}
	def := Definition{Name: key, Prompt: prompt, Emoji: emoji, Color: color, Enabled: true}

	c.mu.Lock()
	c.filters[key] = def
	c.mu.Unlock()

	c.logger.Info("added custom filter", zap.String("filter", key))
	return def, c.Save()
}

// Remove deletes a filter. It reports whether the filter existed.
func (c *Catalog) Remove(name string) (bool, error) {
	key := NormalizeName(name)

	c.mu.Lock()
	_, ok := c.filters[key]
	delete(c.filters, key)
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	c.logger.Info("removed filter", zap.String("filter", key))
	return true, c.Save()
}

// SetEnabled toggles a filter.
func (c *Catalog) SetEnabled(name string, enabled bool) (Definition, error) {
	key := NormalizeName(name)

	c.mu.Lock()
	def, ok := c.filters[key]
	if ok {
		def.Enabled = enabled
		c.filters[key] = def
	}
	c.mu.Unlock()

	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	c.logger.Info("set filter enabled", zap.String("filter", key), zap.Bool("enabled", enabled))
	return def, c.Save()
}

// Len returns the number of filters.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filters)
}
