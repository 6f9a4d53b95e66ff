package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
	"github.com/meetnote/meetnote-be/internal/stt/provider"
)

// Snapshots is the in-flight job cache the processor reads and writes.
type Snapshots interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Put(ctx context.Context, job *domain.Job) error
}

// Queue manages per-stage membership and the scoped retry counters.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, stage domain.Stage) error
	Dequeue(ctx context.Context, jobID string, stage domain.Stage) error
	IncrementRetry(ctx context.Context, jobID string) (int, error)
	ResetRetry(ctx context.Context, jobID string) error
}

// JobStore is the durable record, written only at terminal completion here.
type JobStore interface {
	Save(ctx context.Context, job *domain.Job) error
}

// Provider is the external transcription/summarization service.
type Provider interface {
	CircuitOpen() bool
	RequestTranscription(ctx context.Context, audioURL string) (string, error)
	PollTranscription(ctx context.Context, requestID string) (*provider.TranscriptionStatus, error)
	RequestSummarization(ctx context.Context, text string) (string, error)
	PollSummarization(ctx context.Context, requestID string) (*provider.SummaryStatus, error)
}

// Encoder normalizes raw audio into the canonical serving format.
type Encoder interface {
	Encode(ctx context.Context, rawRef string) (string, error)
}

// Servability verifies encoded files are retrievable from the serving path.
type Servability interface {
	ServingURL(fileRef string) string
	WaitServable(ctx context.Context, fileRef string) error
}

// EventPublisher emits wake events when a job enters a stage queue.
type EventPublisher interface {
	PublishEnqueued(ctx context.Context, jobID string, stage domain.Stage)
}

// Config holds processor tuning parameters
type Config struct {
	EncodingMaxRetries  int           // encode attempts before surfacing failure
	PollMaxRetries      int           // polling-stage retry ceiling before rollback
	RecordingStaleAfter time.Duration // heartbeat age that counts as abandoned
}

// Processor applies one atomic progression attempt per job per stage. Every
// entry point is guarded by a state check, so duplicate dispatch from two
// instances briefly both holding a stage lock degrades to a no-op.
type Processor struct {
	snapshots Snapshots
	queue     Queue
	store     JobStore
	provider  Provider
	encoder   Encoder
	servable  Servability
	events    EventPublisher
	config    Config
	logger    *slog.Logger
}

// NewProcessor creates a job processor
func NewProcessor(
	snapshots Snapshots,
	queue Queue,
	store JobStore,
	prov Provider,
	encoder Encoder,
	servable Servability,
	events EventPublisher,
	config Config,
	logger *slog.Logger,
) *Processor {
	if config.EncodingMaxRetries <= 0 {
		config.EncodingMaxRetries = 3
	}
	if config.PollMaxRetries <= 0 {
		config.PollMaxRetries = 30
	}
	if config.RecordingStaleAfter <= 0 {
		config.RecordingStaleAfter = 2 * time.Minute
	}
	return &Processor{
		snapshots: snapshots,
		queue:     queue,
		store:     store,
		provider:  prov,
		encoder:   encoder,
		servable:  servable,
		events:    events,
		config:    config,
		logger:    logger,
	}
}

// ProcessEncoding runs one encoding attempt: normalize the raw audio, wait
// until the encoded file actually serves, then move ENCODING -> ENCODED.
func (p *Processor) ProcessEncoding(ctx context.Context, jobID string) error {
	job, err := p.loadForStage(ctx, jobID, domain.StageEncoding, domain.StatusEncoding)
	if err != nil || job == nil {
		return err
	}

	encodedRef, err := p.encoder.Encode(ctx, job.AudioFileRef)
	if err != nil {
		return p.handleEncodingFailure(ctx, job, err)
	}

	if err := p.servable.WaitServable(ctx, encodedRef); err != nil {
		return p.handleEncodingFailure(ctx, job, err)
	}

	old := *job
	job.AudioFileRef = encodedRef
	if err := job.Transition(domain.StatusEncoded); err != nil {
		return err
	}
	job.RetryCount = 0
	job.LastError = ""

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist encoded snapshot: %w", err)
	}
	if err := p.queue.Dequeue(ctx, jobID, domain.StageEncoding); err != nil {
		return err
	}
	_ = p.queue.ResetRetry(ctx, jobID)

	p.logTransition(&old, job)

	// Upload-path jobs skip the user-actionable pause and go straight to
	// transcription.
	if job.AutoStart {
		if err := p.StartTranscription(ctx, job); err != nil {
			p.logger.Warn("Auto-start transcription failed, job stays at ENCODED for manual retry",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (p *Processor) handleEncodingFailure(ctx context.Context, job *domain.Job, cause error) error {
	if domain.IsUnrecoverable(cause) {
		return p.evict(ctx, job, domain.StageEncoding, cause)
	}

	count, err := p.queue.IncrementRetry(ctx, job.ID)
	if err != nil {
		return errors.Join(cause, err)
	}
	if count >= p.config.EncodingMaxRetries {
		// Nothing encoded to fall back to, so the failure is surfaced on the
		// snapshot instead of rolling anywhere.
		return p.evict(ctx, job, domain.StageEncoding, cause)
	}

	p.logger.Warn("Encoding attempt failed, job stays queued",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", count),
		slog.Any("error", cause),
	)
	return cause
}

// StartTranscription requests a transcript for an ENCODED job and moves it
// into the PROCESSING polling stage. Shared by the manual retry operation and
// the upload auto-start path.
func (p *Processor) StartTranscription(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.StatusEncoded {
		return &domain.InvalidStateError{JobID: job.ID, From: job.Status}
	}

	requestID, err := p.provider.RequestTranscription(ctx, p.servable.ServingURL(job.AudioFileRef))
	if err != nil {
		return fmt.Errorf("failed to request transcription for job %s: %w", job.ID, err)
	}

	old := *job
	if err := job.Transition(domain.StatusProcessing); err != nil {
		return err
	}
	job.TranscriptRequestID = requestID
	job.Progress = 0
	job.RetryCount = 0

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist processing snapshot: %w", err)
	}
	if err := p.queue.Enqueue(ctx, job.ID, domain.StageProcessing); err != nil {
		return err
	}
	_ = p.queue.ResetRetry(ctx, job.ID)
	p.events.PublishEnqueued(ctx, job.ID, domain.StageProcessing)

	p.logTransition(&old, job)
	return nil
}

// ProcessTranscription runs one transcript poll for a PROCESSING job.
func (p *Processor) ProcessTranscription(ctx context.Context, jobID string) error {
	if p.provider.CircuitOpen() {
		return nil // cheap no-op, job stays queued for the next tick
	}

	job, err := p.loadForStage(ctx, jobID, domain.StageProcessing, domain.StatusProcessing)
	if err != nil || job == nil {
		return err
	}
	if job.TranscriptRequestID == "" {
		return p.evict(ctx, job, domain.StageProcessing,
			domain.NewUnrecoverableError(errors.New("PROCESSING job has no transcript request id")))
	}

	status, err := p.provider.PollTranscription(ctx, job.TranscriptRequestID)
	if err != nil {
		return p.handlePollFailure(ctx, job, domain.StageProcessing, err)
	}

	if !status.Completed {
		job.Progress = status.Progress
		if status.Text != "" {
			job.Content = status.Text
		}
		return p.recordPollProgress(ctx, job, domain.StageProcessing)
	}

	// Transcript done: hand the text to the summarizer and swap stages.
	summaryID, err := p.provider.RequestSummarization(ctx, status.Text)
	if err != nil {
		return p.handlePollFailure(ctx, job, domain.StageProcessing, err)
	}

	old := *job
	if err := job.Transition(domain.StatusSummarizing); err != nil {
		return err
	}
	job.Content = status.Text
	job.TranscriptRequestID = ""
	job.SummaryRequestID = summaryID
	job.Progress = 0
	job.RetryCount = 0

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist summarizing snapshot: %w", err)
	}
	if err := p.queue.Dequeue(ctx, jobID, domain.StageProcessing); err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, jobID, domain.StageSummarizing); err != nil {
		return err
	}
	_ = p.queue.ResetRetry(ctx, jobID)
	p.events.PublishEnqueued(ctx, jobID, domain.StageSummarizing)

	p.logTransition(&old, job)
	return nil
}

// ProcessSummarization runs one summary poll for a SUMMARIZING job. On
// completion it performs the pipeline's only post-creation durable write.
func (p *Processor) ProcessSummarization(ctx context.Context, jobID string) error {
	if p.provider.CircuitOpen() {
		return nil
	}

	job, err := p.loadForStage(ctx, jobID, domain.StageSummarizing, domain.StatusSummarizing)
	if err != nil || job == nil {
		return err
	}
	if job.SummaryRequestID == "" {
		return p.evict(ctx, job, domain.StageSummarizing,
			domain.NewUnrecoverableError(errors.New("SUMMARIZING job has no summary request id")))
	}

	status, err := p.provider.PollSummarization(ctx, job.SummaryRequestID)
	if err != nil {
		return p.handlePollFailure(ctx, job, domain.StageSummarizing, err)
	}

	if !status.Completed {
		job.Progress = status.Progress
		return p.recordPollProgress(ctx, job, domain.StageSummarizing)
	}

	old := *job
	if err := job.Transition(domain.StatusCompleted); err != nil {
		return err
	}
	job.Summary = status.Summary
	job.SummaryRequestID = ""
	job.Progress = 100
	job.RetryCount = 0

	if err := p.store.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist completed job: %w", err)
	}
	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist completed snapshot: %w", err)
	}
	if err := p.queue.Dequeue(ctx, jobID, domain.StageSummarizing); err != nil {
		return err
	}
	_ = p.queue.ResetRetry(ctx, jobID)

	p.logTransition(&old, job)
	return nil
}

// ProcessAbandonedRecording force-finishes a RECORDING job whose last chunk
// heartbeat went stale, treating the audio received so far as complete.
func (p *Processor) ProcessAbandonedRecording(ctx context.Context, jobID string) error {
	job, err := p.loadForStage(ctx, jobID, domain.StageRecording, domain.StatusRecording)
	if err != nil || job == nil {
		return err
	}

	if time.Since(job.LastChunkAt) < p.config.RecordingStaleAfter {
		return nil // still live
	}

	p.logger.Warn("Recording abandoned, force-finishing",
		slog.String("job_id", jobID),
		slog.Time("last_chunk_at", job.LastChunkAt),
	)
	return p.FinishRecording(ctx, job)
}

// FinishRecording moves a RECORDING job into the encoding stage. Called on an
// explicit final chunk and by the abnormal-termination sweep.
func (p *Processor) FinishRecording(ctx context.Context, job *domain.Job) error {
	old := *job
	if err := job.Transition(domain.StatusEncoding); err != nil {
		return err
	}
	job.RetryCount = 0

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist encoding snapshot: %w", err)
	}
	if err := p.queue.Dequeue(ctx, job.ID, domain.StageRecording); err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, job.ID, domain.StageEncoding); err != nil {
		return err
	}
	_ = p.queue.ResetRetry(ctx, job.ID)
	p.events.PublishEnqueued(ctx, job.ID, domain.StageEncoding)

	p.logTransition(&old, job)
	return nil
}

// loadForStage fetches the snapshot and applies the idempotent entry guard.
// A nil, nil return means skip: the job is gone or already past this stage.
func (p *Processor) loadForStage(ctx context.Context, jobID string, stage domain.Stage, want domain.JobStatus) (*domain.Job, error) {
	job, err := p.snapshots.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		// Orphaned queue entry; drop it.
		_ = p.queue.Dequeue(ctx, jobID, stage)
		_ = p.queue.ResetRetry(ctx, jobID)
		return nil, nil
	}
	if err != nil {
		if domain.IsUnrecoverable(err) {
			_ = p.queue.Dequeue(ctx, jobID, stage)
			_ = p.queue.ResetRetry(ctx, jobID)
		}
		return nil, err
	}

	if job.Status != want {
		// Another dispatch already advanced the job. No-op by design of the
		// duplicate-dispatch tolerance.
		p.logger.Debug("Skipping job in unexpected state",
			slog.String("job_id", jobID),
			slog.String("stage", string(stage)),
			slog.String("status", string(job.Status)),
		)
		return nil, nil
	}
	return job, nil
}

// recordPollProgress writes the updated snapshot and bumps the retry counter,
// rolling back to ENCODED once the ceiling is hit.
func (p *Processor) recordPollProgress(ctx context.Context, job *domain.Job, stage domain.Stage) error {
	count, err := p.queue.IncrementRetry(ctx, job.ID)
	if err != nil {
		return err
	}
	job.RetryCount = count

	if count >= p.config.PollMaxRetries {
		return p.rollbackToEncoded(ctx, job, stage)
	}

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist progress snapshot: %w", err)
	}
	return nil
}

// handlePollFailure classifies a provider failure into evict / rollback / wait.
func (p *Processor) handlePollFailure(ctx context.Context, job *domain.Job, stage domain.Stage, cause error) error {
	if errors.Is(cause, domain.ErrCircuitOpen) {
		return nil // breaker opened mid-flight; next tick is a cheap no-op
	}

	var clientErr *provider.ClientError
	if domain.IsUnrecoverable(cause) ||
		(errors.As(cause, &clientErr) && clientErr.Kind == provider.KindBadRequest) {
		return p.evict(ctx, job, stage, cause)
	}

	count, err := p.queue.IncrementRetry(ctx, job.ID)
	if err != nil {
		return errors.Join(cause, err)
	}
	if count >= p.config.PollMaxRetries {
		p.logger.Warn("Retry ceiling reached, rolling back for manual retry",
			slog.String("job_id", job.ID),
			slog.String("stage", string(stage)),
			slog.Int("retry_count", count),
			slog.Any("error", cause),
		)
		return p.rollbackToEncoded(ctx, job, stage)
	}

	p.logger.Warn("Transient provider failure, job stays queued",
		slog.String("job_id", job.ID),
		slog.String("stage", string(stage)),
		slog.Int("retry_count", count),
		slog.Any("error", cause),
	)
	return cause
}

// rollbackToEncoded fails open toward human intervention: the job leaves its
// queue and becomes a stable ENCODED job the user may retry explicitly.
func (p *Processor) rollbackToEncoded(ctx context.Context, job *domain.Job, stage domain.Stage) error {
	old := *job
	if err := job.Transition(domain.StatusEncoded); err != nil {
		return err
	}
	job.RetryCount = 0

	if err := p.snapshots.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to persist rollback snapshot: %w", err)
	}
	if err := p.queue.Dequeue(ctx, job.ID, stage); err != nil {
		return err
	}
	if err := p.queue.ResetRetry(ctx, job.ID); err != nil {
		return err
	}

	p.logTransition(&old, job)
	return nil
}

// evict removes a job that retrying cannot help from its queue, recording the
// failure on the snapshot.
func (p *Processor) evict(ctx context.Context, job *domain.Job, stage domain.Stage, cause error) error {
	job.LastError = cause.Error()
	if err := p.snapshots.Put(ctx, job); err != nil {
		p.logger.Error("Failed to record eviction on snapshot",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	if err := p.queue.Dequeue(ctx, job.ID, stage); err != nil {
		return errors.Join(cause, err)
	}
	_ = p.queue.ResetRetry(ctx, job.ID)

	p.logger.Error("Job evicted from stage queue",
		slog.String("job_id", job.ID),
		slog.String("stage", string(stage)),
		slog.Any("error", cause),
	)
	return cause
}

func (p *Processor) logTransition(old, updated *domain.Job) {
	changes := domain.Diff(old, updated)
	attrs := make([]any, 0, 2+len(changes))
	attrs = append(attrs, slog.String("job_id", updated.ID))
	for _, c := range changes {
		attrs = append(attrs, slog.String(c.Field, c.New))
	}
	p.logger.Info("Job state changed", attrs...)
}
