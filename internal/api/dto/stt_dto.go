package dto

import (
	"time"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
)

// StartRecordingRequest is the payload for POST /stt/recordings
type StartRecordingRequest struct {
	MeetingID string `json:"meeting_id" binding:"required"`
}

// JobCreatedResponse returns the new job's ID
type JobCreatedResponse struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse is the client view of a job snapshot
type JobStatusResponse struct {
	JobID      string `json:"job_id"`
	MeetingID  string `json:"meeting_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	ChunkCount int    `json:"chunk_count"`
	Content    string `json:"content,omitempty"`
	Summary    string `json:"summary,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// FromJob maps a domain job to its client view
func FromJob(job *domain.Job) JobStatusResponse {
	return JobStatusResponse{
		JobID:      job.ID,
		MeetingID:  job.MeetingID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		ChunkCount: job.ChunkCount,
		Content:    job.Content,
		Summary:    job.Summary,
		LastError:  job.LastError,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}
}
