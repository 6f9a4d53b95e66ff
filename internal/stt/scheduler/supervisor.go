package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Supervisor owns every stage scheduler in one process. It is the single
// composition point replacing framework-managed scheduling: the periodic
// timers live inside each scheduler and the event-bus consumer pushes into
// the same wake path via Wake.
type Supervisor struct {
	schedulers map[domain.Stage]*Scheduler
	logger     *slog.Logger

	mu  sync.Mutex
	ctx context.Context // set by Start, read by Wake on the consumer goroutine
}

// NewSupervisor creates a supervisor over the given stage schedulers
func NewSupervisor(schedulers map[domain.Stage]*Scheduler, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		schedulers: schedulers,
		logger:     logger,
	}
}

// Start attempts to start every stage loop. Stages whose lock is held by
// another instance stay dormant until a wake event retries.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for stage, sched := range s.schedulers {
		if err := sched.Start(ctx); err != nil {
			s.logger.Warn("Failed to start stage scheduler",
				slog.String("stage", string(stage)),
				slog.Any("error", err),
			)
		}
	}
}

// Wake reactively starts (if the lock has freed up) and nudges the stage
// scheduler. Implements the event-bus consumer hook.
func (s *Supervisor) Wake(stage domain.Stage) {
	sched, ok := s.schedulers[stage]
	if !ok {
		s.logger.Warn("Wake for unknown stage",
			slog.String("stage", string(stage)),
		)
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx != nil {
		if err := sched.Start(ctx); err != nil {
			s.logger.Warn("Failed to start stage scheduler on wake",
				slog.String("stage", string(stage)),
				slog.Any("error", err),
			)
		}
	}
	sched.Wake()
}

// Shutdown stops every running loop and releases the stage locks.
func (s *Supervisor) Shutdown() {
	for _, sched := range s.schedulers {
		sched.Stop()
	}
	s.logger.Info("All stage schedulers stopped")
}
