package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration layers. Capability-level failures
// (timeout, adapter error) are converted into WorkerResult statuses inside
// the worker and never surface as errors; everything below is what the
// coordinator, pipeline and session layers propagate.
var (
	// ErrResearchExhausted means every research worker failed; the session
	// cannot proceed to the pipeline.
	ErrResearchExhausted = errors.New("research exhausted: all workers failed")

	// ErrSessionCancelled marks cooperative cancellation observed at a
	// suspension point.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrInvalidQuery rejects malformed research requests before a session
	// is created.
	ErrInvalidQuery = errors.New("invalid research query")

	// ErrMemoryUnavailable reports that the memory store backend could not
	// be reached (circuit open or connection failure).
	ErrMemoryUnavailable = errors.New("memory store unavailable")

	// ErrSessionNotFound is returned by status lookups for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")
)

// PipelineStageError is a fatal failure of a quality-pipeline stage. It
// carries the stage name so the session failure reason can point at it.
type PipelineStageError struct {
	Stage string
	Err   error
}

func (e *PipelineStageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineStageError) Unwrap() error { return e.Err }

// NewPipelineStageError wraps err with the failing stage name.
func NewPipelineStageError(stage string, err error) *PipelineStageError {
	return &PipelineStageError{Stage: stage, Err: err}
}

// CapabilityError classifies a capability adapter failure. Workers convert
// these into result statuses; they exist as a type so the sub-reason is
// preserved for logging and the error_reason field.
type CapabilityError struct {
	Capability string // "text_generation" or "document_search"
	Timeout    bool
	Reason     string
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("capability %s timed out: %s", e.Capability, e.Reason)
	}
	return fmt.Sprintf("capability %s failed: %s", e.Capability, e.Reason)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// IsCapabilityTimeout reports whether err is a capability timeout.
func IsCapabilityTimeout(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce) && ce.Timeout
}
