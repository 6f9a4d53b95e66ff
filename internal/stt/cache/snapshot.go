package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Config holds snapshot TTLs per kind of state. Transient states get a short
// TTL; ENCODED is a stable user-actionable state and lives much longer.
type Config struct {
	KeyPrefix    string
	TransientTTL time.Duration // RECORDING, ENCODING, PROCESSING, SUMMARIZING
	StableTTL    time.Duration // ENCODED, COMPLETED
}

// SnapshotCache holds the authoritative in-flight copy of each job. All
// intermediate pipeline reads and writes land here; the durable store is
// touched only at creation and completion.
type SnapshotCache struct {
	rdb    *redis.Client
	config *Config
	logger *slog.Logger
}

// NewSnapshotCache creates a snapshot cache
func NewSnapshotCache(rdb *redis.Client, config *Config, logger *slog.Logger) *SnapshotCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "stt"
	}
	if config.TransientTTL <= 0 {
		config.TransientTTL = 6 * time.Hour
	}
	if config.StableTTL <= 0 {
		config.StableTTL = 7 * 24 * time.Hour
	}
	return &SnapshotCache{
		rdb:    rdb,
		config: config,
		logger: logger,
	}
}

func (c *SnapshotCache) key(jobID string) string {
	return fmt.Sprintf("%s:job:%s", c.config.KeyPrefix, jobID)
}

func (c *SnapshotCache) ttlFor(status domain.JobStatus) time.Duration {
	switch status {
	case domain.StatusEncoded, domain.StatusCompleted:
		return c.config.StableTTL
	default:
		return c.config.TransientTTL
	}
}

// Put overwrites the whole snapshot. Partial updates are never written; a job
// is mutated by at most one stage's logic at a time, so whole-value overwrite
// is safe.
func (c *SnapshotCache) Put(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for job %s: %w", job.ID, err)
	}

	if err := c.rdb.Set(ctx, c.key(job.ID), data, c.ttlFor(job.Status)).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot for job %s: %w", job.ID, err)
	}
	return nil
}

// Get reads the current snapshot. Returns domain.ErrJobNotFound on a miss.
func (c *SnapshotCache) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := c.rdb.Get(ctx, c.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for job %s: %w", jobID, err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		// A snapshot that does not parse will never parse; make the caller
		// evict instead of retrying.
		return nil, domain.NewUnrecoverableError(fmt.Errorf("corrupt snapshot for job %s: %w", jobID, err))
	}

	return &job, nil
}

// Delete removes the snapshot.
func (c *SnapshotCache) Delete(ctx context.Context, jobID string) error {
	if err := c.rdb.Del(ctx, c.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot for job %s: %w", jobID, err)
	}
	return nil
}
