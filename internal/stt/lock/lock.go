package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Manager is a cluster-wide advisory lock built on Redis set-if-absent with
// TTL. It elects one scheduler-loop owner per stage across all instances; it
// does not fence individual jobs, which stay protected by idempotent state
// checks in the processor.
type Manager struct {
	rdb       *redis.Client
	keyPrefix string
	holder    string
	logger    *slog.Logger
}

// NewManager creates a lock manager with a per-process holder marker.
func NewManager(rdb *redis.Client, keyPrefix string, logger *slog.Logger) *Manager {
	if keyPrefix == "" {
		keyPrefix = "stt"
	}
	return &Manager{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		holder:    uuid.New().String(),
		logger:    logger,
	}
}

func (m *Manager) lockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", m.keyPrefix, key)
}

// Holder returns this process's holder marker.
func (m *Manager) Holder() string {
	return m.holder
}

// TryAcquire attempts to take the lock; false means another instance holds it
// and the caller should skip starting its local loop.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.lockKey(key), m.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Refresh extends the TTL if this process still holds the lock.
func (m *Manager) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	val, err := m.rdb.Get(ctx, m.lockKey(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	if val != m.holder {
		return false, nil
	}

	if err := m.rdb.Expire(ctx, m.lockKey(key), ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to refresh lock %s: %w", key, err)
	}
	return true, nil
}

// Release drops the lock if this process holds it. The check-then-delete pair
// is not atomic, acceptable for an advisory lock whose TTL bounds any overlap.
func (m *Manager) Release(ctx context.Context, key string) error {
	val, err := m.rdb.Get(ctx, m.lockKey(key)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	if val != m.holder {
		m.logger.Warn("Skipping release of lock held by another instance",
			slog.String("key", key),
		)
		return nil
	}

	if err := m.rdb.Del(ctx, m.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
