package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/timeline"
)

// ErrCancelled reports a run stopped by cancellation before completing.
var ErrCancelled = errors.New("run cancelled")

// RuntimeError represents an error that stops a run as a whole.
//
// Runtime errors include:
//   - Invalid request: bad window, invalid operation or daemon declarations
//   - Conflict: exclusive writes sharing an instant
//   - Integrity: the history cache saw two payloads for one fingerprint
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run, if one was started.
	RunID string

	// Err is the underlying error.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidRequest indicates a request that cannot be run.
	ErrCodeInvalidRequest RuntimeErrorCode = "INVALID_REQUEST"

	// ErrCodeConflict indicates conflicting writes at one instant.
	ErrCodeConflict RuntimeErrorCode = "CONFLICT"

	// ErrCodeIntegrity indicates a history integrity fault.
	ErrCodeIntegrity RuntimeErrorCode = "INTEGRITY_FAULT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, msg, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsConflict returns true if the error is, or wraps, a write or schedule
// conflict.
func IsConflict(err error) bool {
	if timeline.IsConflict(err) {
		return true
	}
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeConflict
}

// IsIntegrityFault returns true if the error stems from a history
// integrity fault.
func IsIntegrityFault(err error) bool {
	return history.IsIntegrityFault(err)
}

// IsCancelled returns true if the run was stopped by cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// UpstreamError fails an operation that read a write whose producer
// failed. Cause is the model error at the root of the chain.
type UpstreamError struct {
	Op       string
	Key      epoch.Key
	Resource resource.ID
	// Writer is the key of the failed operation that was to write Resource.
	Writer epoch.Key
	Cause  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("operation %s at %s: upstream %s from %s failed: %v",
		e.Op, e.Key.Time, e.Resource, e.Writer.ID, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// IsUpstreamError returns true if the error is an *UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
