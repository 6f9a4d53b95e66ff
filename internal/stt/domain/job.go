package domain

import (
	"time"
)

// JobStatus is the pipeline state of an STT job.
type JobStatus string

const (
	StatusRecording   JobStatus = "RECORDING"
	StatusEncoding    JobStatus = "ENCODING"
	StatusEncoded     JobStatus = "ENCODED"
	StatusProcessing  JobStatus = "PROCESSING"
	StatusSummarizing JobStatus = "SUMMARIZING"
	StatusCompleted   JobStatus = "COMPLETED"
)

// Stage identifies a scheduler work queue.
type Stage string

const (
	StageRecording   Stage = "recording"
	StageEncoding    Stage = "encoding"
	StageProcessing  Stage = "processing"
	StageSummarizing Stage = "summarizing"
)

// Stages lists every queue-bearing stage, used for full-cleanup operations.
var Stages = []Stage{StageRecording, StageEncoding, StageProcessing, StageSummarizing}

// StatusForStage maps a stage queue to the job status its processor expects.
func StatusForStage(stage Stage) JobStatus {
	switch stage {
	case StageRecording:
		return StatusRecording
	case StageEncoding:
		return StatusEncoding
	case StageProcessing:
		return StatusProcessing
	case StageSummarizing:
		return StatusSummarizing
	default:
		return ""
	}
}

// Job is the central STT processing unit, tracked from recording start through
// transcript and summary completion. The durable store holds it only at
// creation and at COMPLETED; all intermediate reads and writes go through the
// snapshot cache.
type Job struct {
	ID                  string    `json:"job_id" db:"job_id"`
	MeetingID           string    `json:"meeting_id" db:"meeting_id"`
	Status              JobStatus `json:"status" db:"status"`
	TranscriptRequestID string    `json:"transcript_request_id,omitempty" db:"transcript_request_id"`
	SummaryRequestID    string    `json:"summary_request_id,omitempty" db:"summary_request_id"`
	Content             string    `json:"content,omitempty" db:"content"`
	Summary             string    `json:"summary,omitempty" db:"summary"`
	RetryCount          int       `json:"retry_count" db:"retry_count"`
	AudioFileRef        string    `json:"audio_file_ref,omitempty" db:"audio_file_ref"`
	ChunkCount          int       `json:"chunk_count" db:"chunk_count"`
	Progress            int       `json:"progress" db:"progress"`
	AutoStart           bool      `json:"auto_start" db:"auto_start"`
	LastError           string    `json:"last_error,omitempty" db:"last_error"`
	LastChunkAt         time.Time `json:"last_chunk_at" db:"last_chunk_at"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// transitions holds the legal state-machine edges. Rollback edges from the two
// polling states back to ENCODED cover the retry-ceiling policy; the
// RECORDING->ENCODING edge doubles as abnormal-termination recovery.
var transitions = map[JobStatus][]JobStatus{
	StatusRecording:   {StatusEncoding},
	StatusEncoding:    {StatusEncoded},
	StatusEncoded:     {StatusProcessing},
	StatusProcessing:  {StatusSummarizing, StatusEncoded},
	StatusSummarizing: {StatusCompleted, StatusEncoded},
	StatusCompleted:   {},
}

// CanTransition reports whether from -> to is a legal state-machine edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the target status, clearing fields that must not
// survive the move. Returns an InvalidStateError on an illegal edge.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return &InvalidStateError{JobID: j.ID, From: j.Status, To: to}
	}

	// Rollback to ENCODED abandons any in-flight provider request.
	if to == StatusEncoded {
		j.TranscriptRequestID = ""
		j.SummaryRequestID = ""
		j.Progress = 0
	}

	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// Terminal reports whether the job has reached its final state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted
}
