package assign

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/server/filter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCatalog struct {
	mu   sync.Mutex
	defs map[string]filter.Definition
}

func newFakeCatalog(names ...string) *fakeCatalog {
	c := &fakeCatalog{defs: make(map[string]filter.Definition)}
	for _, n := range names {
		c.defs[n] = filter.Definition{Name: n, Prompt: "talk like " + n, Enabled: true}
	}
	return c
}

func (c *fakeCatalog) Get(name string) (filter.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.defs[filter.NormalizeName(name)]
	return d, ok
}

func (c *fakeCatalog) Enabled() []filter.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []filter.Definition
	for _, d := range c.defs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *fakeCatalog) setEnabled(name string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.defs[name]
	d.Enabled = enabled
	c.defs[name] = d
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)} }

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

func newAssigner(t *testing.T, mode Mode, catalog Catalog, clk *clock) *Assigner {
	t.Helper()
	cfg := config.AssignConfig{Mode: string(mode), DefaultFilter: "OPPOSITE", Timezone: "UTC"}
	a, err := New(cfg, catalog,
		WithClock(clk.Now),
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	return a
}

func resolveName(t *testing.T, a *Assigner, identity string) string {
	t.Helper()
	def, err := a.Resolve(identity)
	require.NoError(t, err)
	return def.Name
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(config.AssignConfig{Mode: "roulette", Timezone: "UTC"}, newFakeCatalog("PIRATE"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestManualModeIsSticky(t *testing.T) {
	a := newAssigner(t, Manual, newFakeCatalog("PIRATE", "ROBOT", "GRANDMA"), newClock())

	first := resolveName(t, a, "alice")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, resolveName(t, a, "alice"))
	}
	_, err := a.Reroll("alice")
	assert.ErrorIs(t, err, ErrRerollUnsupported)
}

func TestDailyRandomStickyWithinDay(t *testing.T) {
	clk := newClock()
	a := newAssigner(t, DailyRandom, newFakeCatalog("PIRATE", "ROBOT", "GRANDMA"), clk)

	ids := make([]string, 30)
	before := make(map[string]string)
	for i := range ids {
		ids[i] = fmt.Sprintf("player-%d", i)
		before[ids[i]] = resolveName(t, a, ids[i])
	}

	clk.Advance(10 * time.Hour)
	for _, id := range ids {
		assert.Equal(t, before[id], resolveName(t, a, id), "same day keeps the pick")
		assert.Equal(t, "2024-06-01", a.Stats(id).AssignedDate)
	}

	clk.Advance(6 * time.Hour)
	changed := 0
	for _, id := range ids {
		if resolveName(t, a, id) != before[id] {
			changed++
		}
		assert.Equal(t, "2024-06-02", a.Stats(id).AssignedDate)
	}
	assert.Positive(t, changed, "a new day draws new picks")
}

func TestSessionRandomStickyUntilReroll(t *testing.T) {
	catalog := newFakeCatalog("PIRATE", "ROBOT", "GRANDMA")
	clk := newClock()
	a := newAssigner(t, SessionRandom, catalog, clk)

	first := resolveName(t, a, "alice")
	clk.Advance(72 * time.Hour)
	assert.Equal(t, first, resolveName(t, a, "alice"), "session picks do not expire by day")

	var rerolled filter.Definition
	for i := 0; i < 20; i++ {
		def, err := a.Reroll("alice")
		require.NoError(t, err)
		rerolled = def
		if def.Name != first {
			break
		}
	}
	assert.NotEqual(t, first, rerolled.Name)
	assert.Equal(t, rerolled.Name, resolveName(t, a, "alice"))

	a.EndSession("alice")
	assert.Empty(t, a.Stats("alice").Filter)
	assert.NotEmpty(t, resolveName(t, a, "alice"))
}

func TestChaosPicksPerMessage(t *testing.T) {
	a := newAssigner(t, Chaos, newFakeCatalog("PIRATE", "ROBOT", "GRANDMA"), newClock())

	seen := make(map[string]int)
	for i := 0; i < 60; i++ {
		seen[resolveName(t, a, "alice")]++
	}
	assert.Greater(t, len(seen), 1, "chaos draws a filter for every message")
	assert.Equal(t, uint64(60), a.Stats("alice").Resolved)
	assert.Empty(t, a.Stats("alice").Filter)
}

func TestPinnedFilterWinsInEveryMode(t *testing.T) {
	catalog := newFakeCatalog("PIRATE", "ROBOT", "GRANDMA")
	a := newAssigner(t, Chaos, catalog, newClock())

	def, err := a.Pin("alice", "robot")
	require.NoError(t, err)
	assert.Equal(t, "ROBOT", def.Name)
	for i := 0; i < 10; i++ {
		assert.Equal(t, "ROBOT", resolveName(t, a, "alice"))
	}
	assert.True(t, a.Stats("alice").Pinned)

	catalog.setEnabled("ROBOT", false)
	assert.NotEqual(t, "ROBOT", resolveName(t, a, "alice"), "a disabled pin is dropped")
	assert.False(t, a.Stats("alice").Pinned)

	_, err = a.Pin("alice", "ROBOT")
	assert.ErrorIs(t, err, ErrFilterDisabled)
	_, err = a.Pin("alice", "NOPE")
	assert.ErrorIs(t, err, filter.ErrNotFound)
}

func TestRerollClearsPin(t *testing.T) {
	a := newAssigner(t, DailyRandom, newFakeCatalog("PIRATE", "ROBOT"), newClock())

	_, err := a.Pin("alice", "PIRATE")
	require.NoError(t, err)
	_, err = a.Reroll("alice")
	require.NoError(t, err)
	assert.False(t, a.Stats("alice").Pinned)
	assert.Zero(t, a.UnpinAll())
}

func TestStickyPickReplacedWhenFilterDisabled(t *testing.T) {
	catalog := newFakeCatalog("PIRATE", "ROBOT")
	a := newAssigner(t, Manual, catalog, newClock())

	first := resolveName(t, a, "alice")
	catalog.setEnabled(first, false)
	next := resolveName(t, a, "alice")
	assert.NotEqual(t, first, next)
	assert.Equal(t, next, resolveName(t, a, "alice"))
}

func TestUnfilteredResolutions(t *testing.T) {
	a := newAssigner(t, Manual, newFakeCatalog("PIRATE"), newClock())

	a.SetEnabled("alice", false)
	_, err := a.Resolve("alice")
	assert.ErrorIs(t, err, ErrIdentityDisabled)
	assert.True(t, Unfiltered(err))
	assert.False(t, a.Stats("alice").Enabled)

	a.SetEnabled("alice", true)
	a.SetModelAllowed("alice", false)
	_, err = a.Resolve("alice")
	assert.ErrorIs(t, err, ErrModelDenied)
	assert.False(t, a.Stats("alice").ModelAllowed)

	a.SetModelAllowed("alice", true)
	a.SetMode(Disabled)
	_, err = a.Resolve("bob")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.True(t, Unfiltered(err))
	assert.False(t, a.Stats("bob").Enabled)

	a.SetMode(Manual)
	assert.Equal(t, "PIRATE", resolveName(t, a, "alice"))
}

func TestNoEnabledFilterUsesDefault(t *testing.T) {
	catalog := newFakeCatalog("PIRATE", "OPPOSITE")
	catalog.setEnabled("PIRATE", false)
	catalog.setEnabled("OPPOSITE", false)
	a := newAssigner(t, Chaos, catalog, newClock())

	assert.Equal(t, "OPPOSITE", resolveName(t, a, "alice"))

	empty, err := New(config.AssignConfig{Mode: "chaos", DefaultFilter: "GONE", Timezone: "UTC"}, catalog)
	require.NoError(t, err)
	_, err = empty.Resolve("alice")
	assert.ErrorIs(t, err, ErrNoFilter)
}

func TestSetModeDropsRandomPicks(t *testing.T) {
	a := newAssigner(t, SessionRandom, newFakeCatalog("PIRATE", "ROBOT"), newClock())

	resolveName(t, a, "alice")
	_, err := a.Pin("bob", "ROBOT")
	require.NoError(t, err)

	a.SetMode(DailyRandom)
	assert.Empty(t, a.Stats("alice").Filter)
	assert.Equal(t, "ROBOT", a.Stats("bob").Filter)
	assert.Equal(t, DailyRandom, a.Mode())
}

func TestSweepKeepsExplicitSettings(t *testing.T) {
	clk := newClock()
	a := newAssigner(t, Manual, newFakeCatalog("PIRATE"), clk)

	resolveName(t, a, "idle")
	a.SetModelAllowed("optout", false)
	clk.Advance(49 * time.Hour)
	resolveName(t, a, "active")

	assert.Equal(t, 1, a.Sweep())
	ids := make([]string, 0)
	for _, s := range a.All() {
		ids = append(ids, s.Identity)
	}
	assert.Equal(t, []string{"active", "optout"}, ids)
	assert.True(t, a.Forget("optout"))
	assert.False(t, a.Forget("optout"))
}

func TestConcurrentResolve(t *testing.T) {
	a := newAssigner(t, Chaos, newFakeCatalog("PIRATE", "ROBOT", "GRANDMA"), newClock())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", g%3)
			for i := 0; i < 100; i++ {
				_, _ = a.Resolve(id)
				if i%10 == 0 {
					_, _ = a.Pin(id, "PIRATE")
					a.Unpin(id)
				}
			}
		}(g)
	}
	wg.Wait()

	var total uint64
	for _, s := range a.All() {
		total += s.Resolved
	}
	assert.Equal(t, uint64(800), total)
}
