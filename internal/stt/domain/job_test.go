package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"recording to encoding", StatusRecording, StatusEncoding, true},
		{"encoding to encoded", StatusEncoding, StatusEncoded, true},
		{"encoded to processing", StatusEncoded, StatusProcessing, true},
		{"processing to summarizing", StatusProcessing, StatusSummarizing, true},
		{"summarizing to completed", StatusSummarizing, StatusCompleted, true},
		{"processing rollback to encoded", StatusProcessing, StatusEncoded, true},
		{"summarizing rollback to encoded", StatusSummarizing, StatusEncoded, true},
		{"recording cannot skip to encoded", StatusRecording, StatusEncoded, false},
		{"recording cannot skip to processing", StatusRecording, StatusProcessing, false},
		{"encoding cannot roll back to recording", StatusEncoding, StatusRecording, false},
		{"encoded cannot jump to summarizing", StatusEncoded, StatusSummarizing, false},
		{"completed is terminal", StatusCompleted, StatusEncoded, false},
		{"encoded cannot go back to encoding", StatusEncoded, StatusEncoding, false},
		{"unknown status has no edges", JobStatus("BOGUS"), StatusEncoding, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJob_Transition(t *testing.T) {
	t.Run("legal transition updates status and timestamp", func(t *testing.T) {
		job := &Job{
			ID:        "job-1",
			Status:    StatusEncoding,
			UpdatedAt: time.Now().Add(-time.Hour),
		}

		before := job.UpdatedAt
		err := job.Transition(StatusEncoded)

		require.NoError(t, err)
		assert.Equal(t, StatusEncoded, job.Status)
		assert.True(t, job.UpdatedAt.After(before))
	})

	t.Run("illegal transition returns InvalidStateError and leaves job untouched", func(t *testing.T) {
		job := &Job{
			ID:     "job-2",
			Status: StatusRecording,
		}

		err := job.Transition(StatusProcessing)

		require.Error(t, err)
		var stateErr *InvalidStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, "job-2", stateErr.JobID)
		assert.Equal(t, StatusRecording, stateErr.From)
		assert.Equal(t, StatusProcessing, stateErr.To)
		assert.Equal(t, StatusRecording, job.Status)
	})

	t.Run("rollback to encoded clears in-flight request state", func(t *testing.T) {
		job := &Job{
			ID:                  "job-3",
			Status:              StatusProcessing,
			TranscriptRequestID: "rid-123",
			Progress:            40,
			Content:             "partial transcript",
		}

		err := job.Transition(StatusEncoded)

		require.NoError(t, err)
		assert.Equal(t, StatusEncoded, job.Status)
		assert.Empty(t, job.TranscriptRequestID)
		assert.Empty(t, job.SummaryRequestID)
		assert.Zero(t, job.Progress)
		// Accumulated content survives the rollback
		assert.Equal(t, "partial transcript", job.Content)
	})

	t.Run("rollback from summarizing clears both handles", func(t *testing.T) {
		job := &Job{
			ID:                  "job-4",
			Status:              StatusSummarizing,
			TranscriptRequestID: "rid-t",
			SummaryRequestID:    "rid-s",
			Progress:            80,
		}

		err := job.Transition(StatusEncoded)

		require.NoError(t, err)
		assert.Empty(t, job.TranscriptRequestID)
		assert.Empty(t, job.SummaryRequestID)
		assert.Zero(t, job.Progress)
	})
}

func TestJob_Terminal(t *testing.T) {
	assert.False(t, (&Job{Status: StatusSummarizing}).Terminal())
	assert.True(t, (&Job{Status: StatusCompleted}).Terminal())
}

func TestStatusForStage(t *testing.T) {
	assert.Equal(t, StatusRecording, StatusForStage(StageRecording))
	assert.Equal(t, StatusEncoding, StatusForStage(StageEncoding))
	assert.Equal(t, StatusProcessing, StatusForStage(StageProcessing))
	assert.Equal(t, StatusSummarizing, StatusForStage(StageSummarizing))
	assert.Equal(t, JobStatus(""), StatusForStage(Stage("bogus")))
}

func TestIsUnrecoverable(t *testing.T) {
	base := errors.New("corrupt snapshot")

	assert.False(t, IsUnrecoverable(base))
	assert.True(t, IsUnrecoverable(NewUnrecoverableError(base)))

	// Detection survives additional wrapping
	wrapped := fmt.Errorf("outer: %w", NewUnrecoverableError(base))
	assert.True(t, IsUnrecoverable(wrapped))
	assert.True(t, errors.Is(wrapped, base))
}
