// Package locks guards against duplicate execution of one opportunity. Two
// layers cooperate: a Redis-backed per-opportunity execution lock shared by
// every engine instance, and an in-process conflict tracker that spots
// crash-orphaned locks by counting repeated conflicts on the same
// opportunity id inside a rolling window.
package locks

import (
	"sort"
	"sync"
	"time"
)

// TrackerConfig bounds the conflict tracker.
type TrackerConfig struct {
	// ConflictThreshold is how many conflicts inside the window mark an
	// entry as a suspected orphan.
	ConflictThreshold int
	// Window is the rolling observation window; a gap longer than this
	// between conflicts resets the entry.
	Window time.Duration
	// MinAge gates recovery: an entry younger than this never reports,
	// regardless of count.
	MinAge time.Duration
	// MaxEntries caps tracker memory; cleanup evicts oldest-first.
	MaxEntries int
}

// DefaultTrackerConfig matches production: 3 conflicts inside a minute on
// a sufficiently old entry trigger recovery, with a 1000-entry cap.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ConflictThreshold: 3,
		Window:            time.Minute,
		MinAge:            30 * time.Second,
		MaxEntries:        1000,
	}
}

// ConflictEntry is the per-opportunity conflict state.
type ConflictEntry struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

// ConflictTracker counts lock conflicts per opportunity id. Not shared
// across instances; it resets on restart by design (the Redis lock TTL is
// the cross-instance safety net).
type ConflictTracker struct {
	cfg TrackerConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*ConflictEntry
}

// NewConflictTracker builds a tracker with the given bounds.
func NewConflictTracker(cfg TrackerConfig) *ConflictTracker {
	return &ConflictTracker{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*ConflictEntry),
	}
}

// RecordConflict notes one lock conflict for id and reports whether the
// entry now looks like a crash-orphaned lock: at least ConflictThreshold
// conflicts inside the window on an entry at least MinAge old.
func (t *ConflictTracker) RecordConflict(id string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		t.entries[id] = &ConflictEntry{FirstSeen: now, LastSeen: now, Count: 1}
		return false
	}
	if now.Sub(entry.LastSeen) > t.cfg.Window {
		// Stale observation: start a fresh window.
		entry.FirstSeen = now
		entry.LastSeen = now
		entry.Count = 1
		return false
	}
	entry.LastSeen = now
	entry.Count++
	return entry.Count >= t.cfg.ConflictThreshold && now.Sub(entry.FirstSeen) >= t.cfg.MinAge
}

// Forget drops the entry for id, typically after a successful recovery.
func (t *ConflictTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Cleanup drops entries older than twice the window, then evicts
// oldest-first until the size respects MaxEntries. The health loop calls
// this every tick.
func (t *ConflictTracker) Cleanup() {
	now := t.now()
	cutoff := now.Add(-2 * t.cfg.Window)

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.entries {
		if entry.FirstSeen.Before(cutoff) {
			delete(t.entries, id)
		}
	}
	if len(t.entries) <= t.cfg.MaxEntries {
		return
	}

	type aged struct {
		id        string
		firstSeen time.Time
	}
	all := make([]aged, 0, len(t.entries))
	for id, entry := range t.entries {
		all = append(all, aged{id, entry.FirstSeen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].firstSeen.Before(all[j].firstSeen) })
	for i := 0; len(t.entries) > t.cfg.MaxEntries && i < len(all); i++ {
		delete(t.entries, all[i].id)
	}
}

// Len returns the current entry count.
func (t *ConflictTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Process-wide tracker. Lazily created on first access; Reset replaces it
// whole so test isolation stays trivial.
var (
	globalMu      sync.Mutex
	globalTracker *ConflictTracker
)

// GetLockConflictTracker returns the process-wide tracker, creating it with
// defaults on first use.
func GetLockConflictTracker() *ConflictTracker {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalTracker == nil {
		globalTracker = NewConflictTracker(DefaultTrackerConfig())
	}
	return globalTracker
}

// ResetLockConflictTracker discards the process-wide tracker. For tests
// and shutdown only.
func ResetLockConflictTracker() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracker = nil
}
