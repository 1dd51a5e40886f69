package locks

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLockClient backs SetNX/Get/Del with a plain map.
type fakeLockClient struct {
	values map[string]string
	setNX  int
}

func newFakeLockClient() *fakeLockClient {
	return &fakeLockClient{values: make(map[string]string)}
}

func (f *fakeLockClient) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.setNX++
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeLockClient) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeLockClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestAcquireAndRelease(t *testing.T) {
	client := newFakeLockClient()
	m := NewManager(client, "engine-1", 30*time.Second, nil, nil)

	acquired, recovered, err := m.Acquire(context.Background(), "op-1")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.False(t, recovered)
	assert.Equal(t, "engine-1", client.values["execution-lock:op-1"])

	// Second acquisition conflicts.
	acquired, _, err = m.Acquire(context.Background(), "op-1")
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, m.Release(context.Background(), "op-1"))
	acquired, _, err = m.Acquire(context.Background(), "op-1")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAcquireRecoversOrphanedLock(t *testing.T) {
	client := newFakeLockClient()
	client.values["execution-lock:op-1"] = "engine-dead"

	tracker := NewConflictTracker(TrackerConfig{
		ConflictThreshold: 3,
		Window:            time.Minute,
		MinAge:            0,
		MaxEntries:        1000,
	})
	m := NewManager(client, "engine-2", 30*time.Second, tracker, nil)

	// First two conflicts stay below the threshold.
	for i := 0; i < 2; i++ {
		acquired, recovered, err := m.Acquire(context.Background(), "op-1")
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.False(t, recovered)
	}

	// Third conflict trips recovery: the lock changes hands.
	acquired, recovered, err := m.Acquire(context.Background(), "op-1")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, recovered)
	assert.Equal(t, "engine-2", client.values["execution-lock:op-1"])

	// Recovery clears the tracker entry.
	assert.Equal(t, 0, tracker.Len())
}

func TestAcquireWithoutTrackerNeverRecovers(t *testing.T) {
	client := newFakeLockClient()
	client.values["execution-lock:op-1"] = "engine-dead"
	m := NewManager(client, "engine-2", 30*time.Second, nil, nil)

	for i := 0; i < 5; i++ {
		acquired, recovered, err := m.Acquire(context.Background(), "op-1")
		require.NoError(t, err)
		assert.False(t, acquired)
		assert.False(t, recovered)
	}
	assert.Equal(t, "engine-dead", client.values["execution-lock:op-1"])
}

func TestReleaseOfExpiredLockIsNoop(t *testing.T) {
	m := NewManager(newFakeLockClient(), "engine-1", time.Second, nil, nil)
	assert.NoError(t, m.Release(context.Background(), "never-held"))
}
