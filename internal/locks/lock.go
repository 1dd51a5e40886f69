package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "execution-lock:"

// LockClient is the slice of the Redis API the lock manager needs.
// *redis.Client satisfies it.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Manager acquires per-opportunity execution locks in Redis so that only
// one engine instance executes a given opportunity. Locks expire on their
// own (TTL) so a crashed holder cannot wedge an opportunity forever.
type Manager struct {
	client  LockClient
	owner   string
	ttl     time.Duration
	tracker *ConflictTracker
	logger  *slog.Logger
}

// NewManager builds a lock manager. owner identifies this instance in the
// lock value so forced releases can be attributed.
func NewManager(client LockClient, owner string, ttl time.Duration, tracker *ConflictTracker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		owner:   owner,
		ttl:     ttl,
		tracker: tracker,
		logger:  logger,
	}
}

func lockKey(opportunityID string) string {
	return lockKeyPrefix + opportunityID
}

// Acquire attempts to take the execution lock for an opportunity. It
// returns (true, false, nil) on success. On conflict it consults the
// conflict tracker; recovered reports whether the conflict pattern marks
// the existing lock as crash-orphaned, in which case the lock has been
// forcibly replaced and the caller holds it.
func (m *Manager) Acquire(ctx context.Context, opportunityID string) (acquired, recovered bool, err error) {
	key := lockKey(opportunityID)

	ok, err := m.client.SetNX(ctx, key, m.owner, m.ttl).Result()
	if err != nil {
		return false, false, fmt.Errorf("acquire lock %s: %w", opportunityID, err)
	}
	if ok {
		return true, false, nil
	}

	if m.tracker == nil || !m.tracker.RecordConflict(opportunityID) {
		return false, false, nil
	}

	// Suspected orphan: steal the lock. Del then SetNX is racy against a
	// concurrent healthy holder, but the tracker's min-age gate means the
	// holder has been silent far longer than any execution timeout.
	holder, _ := m.client.Get(ctx, key).Result()
	m.logger.Warn("recovering stale execution lock",
		"opportunityId", opportunityID, "holder", holder)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return false, false, fmt.Errorf("recover lock %s: %w", opportunityID, err)
	}
	ok, err = m.client.SetNX(ctx, key, m.owner, m.ttl).Result()
	if err != nil || !ok {
		return false, false, err
	}
	m.tracker.Forget(opportunityID)
	return true, true, nil
}

// Release drops the lock for an opportunity. Safe to call when the lock
// already expired.
func (m *Manager) Release(ctx context.Context, opportunityID string) error {
	if err := m.client.Del(ctx, lockKey(opportunityID)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", opportunityID, err)
	}
	return nil
}
