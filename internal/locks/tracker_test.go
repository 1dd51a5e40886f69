package locks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerAt(cfg TrackerConfig, start time.Time) (*ConflictTracker, *time.Time) {
	now := start
	t := NewConflictTracker(cfg)
	t.now = func() time.Time { return now }
	return t, &now
}

func TestRecordConflictThresholdAndWindowReset(t *testing.T) {
	cfg := TrackerConfig{
		ConflictThreshold: 3,
		Window:            time.Minute,
		MinAge:            0,
		MaxEntries:        1000,
	}
	tr, now := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	assert.False(t, tr.RecordConflict("x"))
	assert.False(t, tr.RecordConflict("x"))
	assert.True(t, tr.RecordConflict("x"), "third conflict crosses the threshold")

	// 120s of silence exceeds the window: the entry restarts at count 1.
	*now = now.Add(2 * time.Minute)
	assert.False(t, tr.RecordConflict("x"))
}

func TestRecordConflictMinAgeGate(t *testing.T) {
	cfg := DefaultTrackerConfig() // threshold 3, min age 30s
	tr, now := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	// Three rapid conflicts cross the count threshold but not the age gate.
	assert.False(t, tr.RecordConflict("y"))
	assert.False(t, tr.RecordConflict("y"))
	assert.False(t, tr.RecordConflict("y"))

	// Once the entry is old enough, the next conflict reports.
	*now = now.Add(31 * time.Second)
	assert.True(t, tr.RecordConflict("y"))
}

func TestRecordConflictIdsAreIndependent(t *testing.T) {
	cfg := TrackerConfig{ConflictThreshold: 2, Window: time.Minute, MaxEntries: 1000}
	tr, _ := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	assert.False(t, tr.RecordConflict("a"))
	assert.False(t, tr.RecordConflict("b"))
	assert.True(t, tr.RecordConflict("a"))
	assert.True(t, tr.RecordConflict("b"))
}

func TestForgetResetsEntry(t *testing.T) {
	cfg := TrackerConfig{ConflictThreshold: 2, Window: time.Minute, MaxEntries: 1000}
	tr, _ := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	tr.RecordConflict("a")
	tr.Forget("a")
	assert.False(t, tr.RecordConflict("a"), "forgotten entry starts over")
}

func TestCleanupDropsAgedEntries(t *testing.T) {
	cfg := TrackerConfig{ConflictThreshold: 3, Window: time.Minute, MaxEntries: 1000}
	tr, now := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	tr.RecordConflict("old")
	*now = now.Add(3 * time.Minute) // beyond 2x window
	tr.RecordConflict("fresh")

	tr.Cleanup()
	assert.Equal(t, 1, tr.Len())
	assert.False(t, tr.RecordConflict("old"), "aged entry was dropped, so this is a first sighting")
}

func TestCleanupEnforcesMaxEntriesOldestFirst(t *testing.T) {
	cfg := TrackerConfig{ConflictThreshold: 3, Window: time.Hour, MaxEntries: 10}
	tr, now := trackerAt(cfg, time.Unix(1_700_000_000, 0))

	for i := 0; i < 25; i++ {
		tr.RecordConflict(fmt.Sprintf("op-%d", i))
		*now = now.Add(time.Second)
	}
	require.Equal(t, 25, tr.Len())

	tr.Cleanup()
	assert.Equal(t, 10, tr.Len())

	// The survivors are the newest 15..24; an old id starts from scratch.
	assert.False(t, tr.RecordConflict("op-0"))
	// A surviving id keeps its count: second conflict on op-24.
	tr.RecordConflict("op-24")
	tr.mu.Lock()
	assert.Equal(t, 2, tr.entries["op-24"].Count)
	tr.mu.Unlock()
}

func TestCleanupBoundHoldsForAnySize(t *testing.T) {
	cfg := TrackerConfig{ConflictThreshold: 3, Window: time.Hour, MaxEntries: 50}
	for _, n := range []int{0, 1, 50, 51, 500} {
		tr, now := trackerAt(cfg, time.Unix(1_700_000_000, 0))
		for i := 0; i < n; i++ {
			tr.RecordConflict(fmt.Sprintf("op-%d", i))
			*now = now.Add(time.Millisecond)
		}
		tr.Cleanup()
		assert.LessOrEqual(t, tr.Len(), cfg.MaxEntries, "n=%d", n)
	}
}

func TestSingletonLifecycle(t *testing.T) {
	ResetLockConflictTracker()
	t.Cleanup(ResetLockConflictTracker)

	first := GetLockConflictTracker()
	assert.Same(t, first, GetLockConflictTracker())

	ResetLockConflictTracker()
	assert.NotSame(t, first, GetLockConflictTracker())
}
