package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
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

func TestAppendEvictsOldest(t *testing.T) {
	h := New(3, 30*time.Minute, WithClock(newClock().Now))

	for i := 1; i <= 5; i++ {
		h.Append("alice", fmt.Sprintf("m%d", i), false)
	}

	want := []string{"m3", "m4", "m5"}
	if diff := cmp.Diff(want, h.RecentOriginals("alice")); diff != "" {
		t.Errorf("RecentOriginals mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, h.Entries("alice"), 3)
}

func TestRecentOriginalsSkipsTransformed(t *testing.T) {
	h := New(5, 30*time.Minute, WithClock(newClock().Now))

	h.Append("alice", "hello", false)
	h.Append("alice", "ahoy", true)
	h.Append("alice", "bye", false)
	h.Append("alice", "farewell, matey", true)

	want := []string{"hello", "bye"}
	if diff := cmp.Diff(want, h.RecentOriginals("alice")); diff != "" {
		t.Errorf("RecentOriginals mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.RecentOriginals("bob"))
}

func TestContextHash(t *testing.T) {
	h := New(5, 30*time.Minute, WithClock(newClock().Now))

	assert.Equal(t, "", h.ContextHash("alice"))

	h.Append("alice", "hello", false)
	first := h.ContextHash("alice")
	assert.Len(t, first, 16)

	// Transformed entries are not part of the context.
	h.Append("alice", "ahoy", true)
	assert.Equal(t, first, h.ContextHash("alice"))

	h.Append("alice", "again", false)
	assert.NotEqual(t, first, h.ContextHash("alice"))

	h.Append("bob", "hello", false)
	assert.Equal(t, first, h.ContextHash("bob"))
}

func TestHashOfSnapshot(t *testing.T) {
	h := New(5, 30*time.Minute, WithClock(newClock().Now))
	assert.Equal(t, "", HashOf(nil))

	h.Append("alice", "hello", false)
	snapshot := h.RecentOriginals("alice")
	assert.Equal(t, h.ContextHash("alice"), HashOf(snapshot))

	// A later append changes the live hash but not the snapshot's.
	h.Append("alice", "again", false)
	assert.NotEqual(t, h.ContextHash("alice"), HashOf(snapshot))
	assert.Equal(t, HashOf([]string{"hello"}), HashOf(snapshot))
}

func TestStaleHistory(t *testing.T) {
	clk := newClock()
	h := New(5, 30*time.Minute, WithClock(clk.Now))

	h.Append("alice", "old", false)
	clk.Advance(31 * time.Minute)

	assert.Nil(t, h.Entries("alice"))
	assert.Equal(t, "", h.ContextHash("alice"))

	// Appending after staleness starts a fresh buffer.
	h.Append("alice", "new", false)
	if diff := cmp.Diff([]string{"new"}, h.RecentOriginals("alice")); diff != "" {
		t.Errorf("RecentOriginals mismatch (-want +got):\n%s", diff)
	}
}

func TestSweep(t *testing.T) {
	clk := newClock()
	h := New(5, 30*time.Minute, WithClock(clk.Now))

	h.Append("alice", "a", false)
	clk.Advance(20 * time.Minute)
	h.Append("bob", "b", false)
	clk.Advance(15 * time.Minute)

	assert.Equal(t, 1, h.Sweep())
	assert.Equal(t, 1, h.Len())
	assert.NotEmpty(t, h.Entries("bob"))
}

func TestClear(t *testing.T) {
	h := New(5, 30*time.Minute)
	h.Append("alice", "a", false)
	h.Clear("alice")
	assert.Equal(t, 0, h.Len())
	h.Clear("nobody")
}

func TestSetLimitsShrinks(t *testing.T) {
	h := New(5, 30*time.Minute, WithClock(newClock().Now))
	for i := 0; i < 5; i++ {
		h.Append("alice", fmt.Sprint(i), false)
	}

	h.SetLimits(2, 30*time.Minute)
	h.Append("alice", "5", false)

	if diff := cmp.Diff([]string{"4", "5"}, h.RecentOriginals("alice")); diff != "" {
		t.Errorf("RecentOriginals mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentAppendNeverExceedsCapacity(t *testing.T) {
	h := New(5, 30*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h.Append("alice", fmt.Sprint(i), i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			h.Sweep()
			_ = h.ContextHash("alice")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(h.Entries("alice")), 5)
}
