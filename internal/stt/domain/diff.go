package domain

import (
	"fmt"
	"strconv"
)

// FieldChange records one changed job field for audit logging.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %q -> %q", c.Field, c.Old, c.New)
}

// Diff compares two versions of a job field by field and returns the changes.
// Explicit and typed on purpose: the mutating service calls it directly, there
// is no reflective dispatch.
func Diff(old, updated *Job) []FieldChange {
	var changes []FieldChange

	appendChange := func(field, o, n string) {
		if o != n {
			changes = append(changes, FieldChange{Field: field, Old: o, New: n})
		}
	}

	appendChange("status", string(old.Status), string(updated.Status))
	appendChange("transcript_request_id", old.TranscriptRequestID, updated.TranscriptRequestID)
	appendChange("summary_request_id", old.SummaryRequestID, updated.SummaryRequestID)
	appendChange("content", old.Content, updated.Content)
	appendChange("summary", old.Summary, updated.Summary)
	appendChange("audio_file_ref", old.AudioFileRef, updated.AudioFileRef)
	appendChange("last_error", old.LastError, updated.LastError)
	appendChange("chunk_count", strconv.Itoa(old.ChunkCount), strconv.Itoa(updated.ChunkCount))
	appendChange("progress", strconv.Itoa(old.Progress), strconv.Itoa(updated.Progress))
	appendChange("retry_count", strconv.Itoa(old.RetryCount), strconv.Itoa(updated.RetryCount))

	return changes
}
