package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Snapshots is the in-flight cache as the client-facing operations use it.
type Snapshots interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Put(ctx context.Context, job *domain.Job) error
	Delete(ctx context.Context, jobID string) error
}

// Queue covers the membership operations the service needs.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, stage domain.Stage) error
	Heartbeat(ctx context.Context, jobID string) error
	RemoveEverywhere(ctx context.Context, jobID string) error
}

// Store is the durable record, written at creation and read/deleted here.
type Store interface {
	Save(ctx context.Context, job *domain.Job) error
	FindByID(ctx context.Context, jobID string) (*domain.Job, error)
	Delete(ctx context.Context, jobID string) error
}

// Chunks is the raw-audio accumulation collaborator.
type Chunks interface {
	RawRef(jobID string) string
	Append(jobID string, data []byte) error
	WriteAll(jobID string, data []byte) error
	Remove(jobID string)
}

// Pipeline is the subset of processor operations the service triggers
// synchronously on behalf of a client.
type Pipeline interface {
	FinishRecording(ctx context.Context, job *domain.Job) error
	StartTranscription(ctx context.Context, job *domain.Job) error
}

// Service exposes the client-facing STT operations to the HTTP controllers.
type Service struct {
	snapshots Snapshots
	queue     Queue
	store     Store
	chunks    Chunks
	pipeline  Pipeline
	logger    *slog.Logger
}

// NewService creates the STT service
func NewService(snapshots Snapshots, queue Queue, store Store, chunks Chunks, pipeline Pipeline, logger *slog.Logger) *Service {
	return &Service{
		snapshots: snapshots,
		queue:     queue,
		store:     store,
		chunks:    chunks,
		pipeline:  pipeline,
		logger:    logger,
	}
}

// StartRecording creates a RECORDING job for the meeting and returns its ID.
// This is the first of the two durable writes in a job's life.
func (s *Service) StartRecording(ctx context.Context, meetingID string) (string, error) {
	now := time.Now()
	job := &domain.Job{
		ID:           uuid.New().String(),
		MeetingID:    meetingID,
		Status:       domain.StatusRecording,
		LastChunkAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
		AudioFileRef: "",
	}
	job.AudioFileRef = s.chunks.RawRef(job.ID)

	if err := s.store.Save(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}
	if err := s.snapshots.Put(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job snapshot: %w", err)
	}
	// Recording membership doubles as the liveness heartbeat the abnormal-
	// termination sweep watches.
	if err := s.queue.Enqueue(ctx, job.ID, domain.StageRecording); err != nil {
		return "", err
	}

	s.logger.Info("Recording started",
		slog.String("job_id", job.ID),
		slog.String("meeting_id", meetingID),
	)
	return job.ID, nil
}

// AppendChunk stores one uploaded audio chunk and refreshes the heartbeat.
// The final chunk finishes the recording and hands the job to the encoder.
func (s *Service) AppendChunk(ctx context.Context, jobID string, data []byte, isFinal bool) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusRecording {
		return &domain.InvalidStateError{JobID: jobID, From: job.Status}
	}

	if len(data) > 0 {
		if err := s.chunks.Append(jobID, data); err != nil {
			return err
		}
		job.ChunkCount++
	}
	job.LastChunkAt = time.Now()
	job.UpdatedAt = job.LastChunkAt

	if err := s.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to update snapshot for job %s: %w", jobID, err)
	}
	if err := s.queue.Heartbeat(ctx, jobID); err != nil {
		s.logger.Warn("Failed to refresh recording heartbeat",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	if isFinal {
		return s.pipeline.FinishRecording(ctx, job)
	}
	return nil
}

// UploadAndTranscribe accepts a complete audio file and runs the whole
// pipeline without further user action: the job carries AutoStart so the
// encoder hands it straight to transcription.
func (s *Service) UploadAndTranscribe(ctx context.Context, meetingID string, data []byte) (string, error) {
	now := time.Now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		MeetingID:   meetingID,
		Status:      domain.StatusRecording,
		AutoStart:   true,
		ChunkCount:  1,
		LastChunkAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	job.AudioFileRef = s.chunks.RawRef(job.ID)

	if err := s.chunks.WriteAll(job.ID, data); err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}
	if err := s.snapshots.Put(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job snapshot: %w", err)
	}

	if err := s.pipeline.FinishRecording(ctx, job); err != nil {
		return "", err
	}

	s.logger.Info("Upload accepted for transcription",
		slog.String("job_id", job.ID),
		slog.String("meeting_id", meetingID),
		slog.Int("bytes", len(data)),
	)
	return job.ID, nil
}

// RetryFromEncoded restarts transcription for a job parked at ENCODED, either
// after a rollback or before its first explicit trigger.
func (s *Service) RetryFromEncoded(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusEncoded {
		return &domain.InvalidStateError{JobID: jobID, From: job.Status}
	}

	return s.pipeline.StartTranscription(ctx, job)
}

// GetStatus returns the current snapshot, rebuilding it from the durable
// store when the cache entry has expired.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.getJob(ctx, jobID)
}

// DeleteJob removes the durable record, every queue membership, the retry
// counter, the snapshot, and the audio files. Best effort: each removal is
// attempted even if an earlier one fails.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	var errs []error

	if err := s.store.Delete(ctx, jobID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		errs = append(errs, err)
	}
	if err := s.queue.RemoveEverywhere(ctx, jobID); err != nil {
		errs = append(errs, err)
	}
	if err := s.snapshots.Delete(ctx, jobID); err != nil {
		errs = append(errs, err)
	}
	s.chunks.Remove(jobID)

	if len(errs) > 0 {
		return fmt.Errorf("failed to fully delete job %s: %w", jobID, errors.Join(errs...))
	}

	s.logger.Info("Job deleted",
		slog.String("job_id", jobID),
	)
	return nil
}

// getJob reads the snapshot, falling back to the durable store on a cache
// miss and re-warming the cache from it.
func (s *Service) getJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.snapshots.Get(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}

	job, err = s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if putErr := s.snapshots.Put(ctx, job); putErr != nil {
		s.logger.Warn("Failed to re-warm snapshot from durable store",
			slog.String("job_id", jobID),
			slog.Any("error", putErr),
		)
	}
	return job, nil
}
