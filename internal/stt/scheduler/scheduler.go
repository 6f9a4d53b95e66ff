package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Task is the per-job unit of work a stage dispatches on each tick.
type Task func(ctx context.Context, jobID string) error

// Locks is the cluster-wide election primitive gating each stage loop.
type Locks interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Drainer lists the jobs currently awaiting a stage.
type Drainer interface {
	MembersOf(ctx context.Context, stage domain.Stage) ([]string, error)
}

// Config holds per-stage scheduler tuning
type Config struct {
	Stage         domain.Stage
	Interval      time.Duration // fixed delay between ticks
	BatchTimeout  time.Duration // deadline to wait for one tick's fan-out
	LockTTL       time.Duration // stage lock lifetime, must outlive a full tick plus its batch
	MaxConcurrent int           // fan-out bound within a tick
}

// Scheduler is one stage's periodic drain loop. Cluster-wide at most one
// instance runs it, elected by the stage lock; locally Start is idempotent.
// The timer and the event-bus wakeup both feed the same wake channel, so a
// freshly enqueued job does not wait out a full polling interval.
type Scheduler struct {
	config Config
	locks  Locks
	queue  Drainer
	task   Task
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
}

// NewScheduler creates a stage scheduler
func NewScheduler(config Config, locks Locks, queue Drainer, task Task, logger *slog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 30 * time.Second
	}
	// The lock is refreshed once per tick, and up to Interval+BatchTimeout can
	// pass between refreshes. A shorter TTL would expire mid-batch and hand
	// the stage to another instance while work is still in flight.
	if minTTL := config.Interval + config.BatchTimeout; config.LockTTL < minTTL {
		config.LockTTL = 2 * minTTL
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	return &Scheduler{
		config: config,
		locks:  locks,
		queue:  queue,
		task:   task,
		logger: logger.With(slog.String("stage", string(config.Stage))),
		wake:   make(chan struct{}, 1),
	}
}

func (s *Scheduler) lockKey() string {
	return "scheduler:" + string(s.config.Stage)
}

// Start begins the loop if this instance wins the stage lock. No-op when the
// loop is already running locally or another instance holds the lock.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	acquired, err := s.locks.TryAcquire(ctx, s.lockKey(), s.config.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Debug("Stage lock held elsewhere, not starting local loop")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx)

	s.logger.Info("Stage scheduler started",
		slog.Duration("interval", s.config.Interval),
	)
	return nil
}

// Wake nudges the loop to drain immediately instead of waiting for the timer.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the pending tick and blocks briefly for in-flight completion,
// then releases the stage lock.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("Timed out waiting for scheduler loop to stop")
	}

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer releaseCancel()
	if err := s.locks.Release(releaseCtx, s.lockKey()); err != nil {
		s.logger.Warn("Failed to release stage lock",
			slog.Any("error", err),
		)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stage scheduler stopped")
}

// loop runs fixed-delay ticks: the timer restarts only after a batch finishes.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if s.ensureLock(ctx) {
			s.runBatch(ctx)

			// A batch may run right up to the deadline; extend the lock so
			// the next tick's refresh still finds it alive.
			if _, err := s.locks.Refresh(ctx, s.lockKey(), s.config.LockTTL); err != nil {
				s.logger.Warn("Failed to refresh stage lock after batch",
					slog.Any("error", err),
				)
			}
		}
		timer.Reset(s.config.Interval)
	}
}

// ensureLock refreshes the stage lock, re-acquiring it if it expired. When
// another instance holds the lock the loop stays dormant and retries on the
// next tick, so an expiry never strands queued jobs.
func (s *Scheduler) ensureLock(ctx context.Context) bool {
	held, err := s.locks.Refresh(ctx, s.lockKey(), s.config.LockTTL)
	if err != nil {
		s.logger.Warn("Failed to refresh stage lock",
			slog.Any("error", err),
		)
		return true
	}
	if held {
		return true
	}

	acquired, err := s.locks.TryAcquire(ctx, s.lockKey(), s.config.LockTTL)
	if err != nil {
		s.logger.Warn("Failed to re-acquire stage lock",
			slog.Any("error", err),
		)
		return false
	}
	if !acquired {
		s.logger.Debug("Stage lock held elsewhere, skipping tick")
		return false
	}

	s.logger.Info("Re-acquired stage lock")
	return true
}

// runBatch drains the stage set and dispatches one unit of work per job with
// bounded concurrency. Individual failures are isolated; stragglers past the
// batch deadline are abandoned to the next tick without cancellation.
func (s *Scheduler) runBatch(ctx context.Context) {
	ids, err := s.queue.MembersOf(ctx, s.config.Stage)
	if err != nil {
		s.logger.Error("Failed to drain stage queue",
			slog.Any("error", err),
		)
		return
	}
	if len(ids) == 0 {
		return
	}

	s.logger.Debug("Dispatching stage batch",
		slog.Int("jobs", len(ids)),
	)

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.config.MaxConcurrent)
	deadline := time.After(s.config.BatchTimeout)

	for _, jobID := range ids {
		// The semaphore acquire honors the same deadline as the batch wait,
		// so a full semaphore of slow tasks cannot pin the loop here.
		select {
		case sem <- struct{}{}:
		case <-deadline:
			s.logger.Warn("Batch deadline exceeded, abandoning stragglers until next tick")
			return
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.task(ctx, jobID); err != nil {
				s.logger.Warn("Job processing failed",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}(jobID)
	}

	batchDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(batchDone)
	}()

	select {
	case <-batchDone:
	case <-deadline:
		s.logger.Warn("Batch deadline exceeded, abandoning stragglers until next tick")
	case <-ctx.Done():
	}
}
