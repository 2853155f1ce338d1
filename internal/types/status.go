package types

import (
	"fmt"
	"time"
)

// ProcessingStatus is the transcript lifecycle: pending -> processing ->
// {completed, partial, failed}. Terminal states re-enter processing only
// through an explicit retry.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusPartial    ProcessingStatus = "partial"
	StatusFailed     ProcessingStatus = "failed"
)

// ValidStatus reports whether s is a member of the enumeration.
func ValidStatus(s ProcessingStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state of a pipeline run.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Retryable reports whether a transcript in this state may be retried.
// Completed is terminal for the transcript as a whole; individual calls
// on a completed transcript can still be force re-graded.
func (s ProcessingStatus) Retryable() bool {
	return s == StatusFailed || s == StatusPartial
}

// CanTransition reports whether from -> to is a legal move in the
// status machine. Self transitions are not moves.
func CanTransition(from, to ProcessingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusPartial || to == StatusFailed
	case StatusCompleted, StatusPartial, StatusFailed:
		return to == StatusProcessing
	}
	return false
}

// ErrIllegalTransition marks an attempted status move the machine does
// not allow. It signals a programming error, not a runtime condition.
type ErrIllegalTransition struct {
	From, To ProcessingStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Stuck reports whether a transcript looks stalled: still pending or
// processing with no status change inside the threshold window. Pure
// function of its inputs so pollers and tests can reason about it.
func Stuck(status ProcessingStatus, updatedAt, now time.Time, threshold time.Duration) bool {
	if status.Terminal() {
		return false
	}
	return now.Sub(updatedAt) > threshold
}
