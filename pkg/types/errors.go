package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks across packages.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")
	ErrStorage    = errors.New("storage failure")
	ErrTimeout    = errors.New("timed out")
	ErrDetection  = errors.New("change detection failed")
)

// ValidationError reports a configuration field outside its documented
// range. Field uses the JSON document name of the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an operation on an unknown key. Read paths return
// it as a defined result; write paths fail with it explicitly.
type NotFoundError struct {
	Kind string // "job", "timeline", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StateError reports an operation rejected by the job state machine, such
// as finalizing before the stability period is met or extending beyond the
// extension cap. State errors are never retried.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *StateError) Unwrap() error { return ErrState }

// StorageError reports a durable I/O failure that persisted through the
// bounded retry budget.
type StorageError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// TimeoutError reports a batch cycle that exceeded its allotted time.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// DetectionError reports that change computation itself failed. It is
// surfaced rather than swallowed because it indicates corrupt input data.
type DetectionError struct {
	Key string
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("change detection for %s: %v", e.Key, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

func (e *DetectionError) Is(target error) bool { return target == ErrDetection }

// IsRetryable reports whether the error might succeed on retry. Validation,
// state, and not-found errors are deterministic and never retried; storage,
// timeout, and unclassified errors count as transient.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrValidation) &&
		!errors.Is(err, ErrState) &&
		!errors.Is(err, ErrNotFound)
}
