package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// FallbackStore is the durable-store path used when Redis is unreachable.
type FallbackStore interface {
	FindIDsByStatus(ctx context.Context, status domain.JobStatus) ([]string, error)
}

// Config holds work-queue tuning parameters
type Config struct {
	KeyPrefix string        // key namespace, default "stt"
	RetryTTL  time.Duration // lifetime of a job's retry counter
	PurgeAge  time.Duration // entries older than this are dropped during drain
}

// Manager tracks per-stage queue membership as time-scored Redis sets and owns
// the per-job retry counters. A job belongs to at most one stage's set at a
// time; the caller swaps membership on every stage transition.
//
// When Redis is unavailable and a stage drain would come back empty, MembersOf
// falls back to a direct durable-store query by status. Jobs created during
// the outage may be invisible until Redis recovers; the degraded mode is
// logged, not hidden.
type Manager struct {
	rdb    *redis.Client
	store  FallbackStore
	config *Config
	logger *slog.Logger
}

// NewManager creates a work-queue manager
func NewManager(rdb *redis.Client, store FallbackStore, config *Config, logger *slog.Logger) *Manager {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "stt"
	}
	if config.RetryTTL <= 0 {
		config.RetryTTL = 30 * time.Minute
	}
	if config.PurgeAge <= 0 {
		config.PurgeAge = 24 * time.Hour
	}
	return &Manager{
		rdb:    rdb,
		store:  store,
		config: config,
		logger: logger,
	}
}

func (m *Manager) queueKey(stage domain.Stage) string {
	return fmt.Sprintf("%s:queue:%s", m.config.KeyPrefix, stage)
}

func (m *Manager) retryKey(jobID string) string {
	return fmt.Sprintf("%s:retry:%s", m.config.KeyPrefix, jobID)
}

// Enqueue adds the job to the stage's membership set, scored by enqueue time.
func (m *Manager) Enqueue(ctx context.Context, jobID string, stage domain.Stage) error {
	err := m.rdb.ZAdd(ctx, m.queueKey(stage), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s into %s: %w", jobID, stage, err)
	}
	return nil
}

// Dequeue removes the job from the stage's membership set.
func (m *Manager) Dequeue(ctx context.Context, jobID string, stage domain.Stage) error {
	if err := m.rdb.ZRem(ctx, m.queueKey(stage), jobID).Err(); err != nil {
		return fmt.Errorf("failed to dequeue job %s from %s: %w", jobID, stage, err)
	}
	return nil
}

// Heartbeat refreshes the job's score in the recording set. Written on every
// chunk append; the abnormal-termination sweep reads it as a liveness signal.
func (m *Manager) Heartbeat(ctx context.Context, jobID string) error {
	return m.Enqueue(ctx, jobID, domain.StageRecording)
}

// MembersOf returns every job ID currently awaiting the stage, for one
// draining pass. Entries older than the purge age are dropped before the read.
func (m *Manager) MembersOf(ctx context.Context, stage domain.Stage) ([]string, error) {
	key := m.queueKey(stage)

	// Recording scores are heartbeats, not enqueue times; stale ones are
	// exactly what the sweep needs to see.
	if stage != domain.StageRecording {
		purgeBefore := time.Now().Add(-m.config.PurgeAge).Unix()
		if err := m.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", purgeBefore)).Err(); err != nil {
			m.logger.Warn("Failed to purge stale queue entries",
				slog.String("stage", string(stage)),
				slog.Any("error", err),
			)
		}
	}

	ids, err := m.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		m.logger.Warn("Work queue read failed, falling back to durable store",
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
		return m.fallback(ctx, stage)
	}

	if len(ids) == 0 && !m.IsBackingStoreAvailable(ctx) {
		m.logger.Warn("Work queue backing store unavailable, falling back to durable store",
			slog.String("stage", string(stage)),
		)
		return m.fallback(ctx, stage)
	}

	return ids, nil
}

func (m *Manager) fallback(ctx context.Context, stage domain.Stage) ([]string, error) {
	status := domain.StatusForStage(stage)
	if status == "" {
		return nil, fmt.Errorf("no status mapping for stage %s: %w", stage, domain.ErrQueueUnavailable)
	}

	ids, err := m.store.FindIDsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("durable-store fallback for stage %s: %w", stage, err)
	}

	m.logger.Info("Drained stage from durable store in degraded mode",
		slog.String("stage", string(stage)),
		slog.Int("jobs", len(ids)),
	)
	return ids, nil
}

// IncrementRetry bumps the job's scoped retry counter and returns the new
// value. The counter carries its own TTL so abandoned counters decay.
func (m *Manager) IncrementRetry(ctx context.Context, jobID string) (int, error) {
	key := m.retryKey(jobID)

	count, err := m.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry counter for job %s: %w", jobID, err)
	}
	if err := m.rdb.Expire(ctx, key, m.config.RetryTTL).Err(); err != nil {
		m.logger.Warn("Failed to set retry counter TTL",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	return int(count), nil
}

// ResetRetry clears the job's retry counter. Called on every stage entry.
func (m *Manager) ResetRetry(ctx context.Context, jobID string) error {
	if err := m.rdb.Del(ctx, m.retryKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to reset retry counter for job %s: %w", jobID, err)
	}
	return nil
}

// IsBackingStoreAvailable reports whether Redis answers a ping.
func (m *Manager) IsBackingStoreAvailable(ctx context.Context) bool {
	return m.rdb.Ping(ctx).Err() == nil
}

// RemoveEverywhere strips the job from every stage set and drops its retry
// counter, best-effort pipelined. Used by job deletion.
func (m *Manager) RemoveEverywhere(ctx context.Context, jobID string) error {
	pipe := m.rdb.Pipeline()
	for _, stage := range domain.Stages {
		pipe.ZRem(ctx, m.queueKey(stage), jobID)
	}
	pipe.Del(ctx, m.retryKey(jobID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove job %s from queues: %w", jobID, err)
	}
	return nil
}
