package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job exists in neither the snapshot
	// cache nor the durable store.
	ErrJobNotFound = errors.New("job not found")

	// ErrCircuitOpen is returned by the provider client while the circuit
	// breaker refuses calls. Callers treat it as "still processing".
	ErrCircuitOpen = errors.New("provider circuit open")

	// ErrQueueUnavailable signals that the queue backing store could not be
	// reached and the durable-store fallback path was taken.
	ErrQueueUnavailable = errors.New("work queue backing store unavailable")
)

// InvalidStateError is returned for an illegal state-machine transition or a
// processor entry guard that found the job in an unexpected state.
type InvalidStateError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *InvalidStateError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("job %s in unexpected state %s", e.JobID, e.From)
	}
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}

// UnrecoverableError marks a failure that no retry can fix (malformed handles,
// corrupt snapshots). The processor evicts the job from its queue immediately.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string {
	return "unrecoverable: " + e.Err.Error()
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// NewUnrecoverableError wraps err as a no-retry failure.
func NewUnrecoverableError(err error) error {
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable reports whether err (or anything it wraps) rules out retry.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
