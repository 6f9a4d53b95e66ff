package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// Store is the durable record of STT jobs. The pipeline writes it exactly
// twice per job: once at creation and once at COMPLETED. It also serves the
// degraded-mode queue fallback (FindIDsByStatus).
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Save upserts the job record. Creation and terminal completion both land here.
func (s *Store) Save(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO stt_jobs (
			job_id, meeting_id, status, transcript_request_id, summary_request_id,
			content, summary, retry_count, audio_file_ref, chunk_count, progress,
			auto_start, last_error, last_chunk_at, created_at, updated_at
		) VALUES (
			:job_id, :meeting_id, :status, :transcript_request_id, :summary_request_id,
			:content, :summary, :retry_count, :audio_file_ref, :chunk_count, :progress,
			:auto_start, :last_error, :last_chunk_at, :created_at, :updated_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			transcript_request_id = EXCLUDED.transcript_request_id,
			summary_request_id = EXCLUDED.summary_request_id,
			content = EXCLUDED.content,
			summary = EXCLUDED.summary,
			retry_count = EXCLUDED.retry_count,
			audio_file_ref = EXCLUDED.audio_file_ref,
			chunk_count = EXCLUDED.chunk_count,
			progress = EXCLUDED.progress,
			auto_start = EXCLUDED.auto_start,
			last_error = EXCLUDED.last_error,
			last_chunk_at = EXCLUDED.last_chunk_at,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	s.logger.Info("Job record saved",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return nil
}

// FindByID retrieves a job by its ID.
func (s *Store) FindByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, meeting_id, status, transcript_request_id, summary_request_id,
		       content, summary, retry_count, audio_file_ref, chunk_count, progress,
		       auto_start, last_error, last_chunk_at, created_at, updated_at
		FROM stt_jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	return &job, nil
}

// FindIDsByStatus returns the IDs of all jobs currently in the given status.
// Fallback path for queue drains while Redis is down.
func (s *Store) FindIDsByStatus(ctx context.Context, status domain.JobStatus) ([]string, error) {
	query := `SELECT job_id FROM stt_jobs WHERE status = $1 ORDER BY created_at`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, status); err != nil {
		return nil, fmt.Errorf("failed to find jobs by status %s: %w", status, err)
	}

	return ids, nil
}

// Delete removes the job record.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stt_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Info("Job record deleted",
		slog.String("job_id", jobID),
	)
	return nil
}
