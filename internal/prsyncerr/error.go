// Package prsyncerr defines the error conditions of a pull request
// synchronization run.
package prsyncerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCorruptSnapshot is returned when a snapshot file exists but can not
	// be decoded.
	ErrCorruptSnapshot = errors.New("snapshot is corrupt")
	// ErrInconsistentSnapshot is returned when the snapshot index does not
	// match the stored records.
	ErrInconsistentSnapshot = errors.New("snapshot index is inconsistent")
	// ErrNoProgress is returned when the issue listing did not advance the
	// watermark too many times in a row.
	ErrNoProgress = errors.New("synchronization does not make progress")
	// ErrRetriesExhausted is returned when an operation failed on every
	// allowed attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// InputError describes an invalid parameter of a synchronization run.
// It is returned before any remote call happened.
type InputError struct {
	Param string
	Value string
	Msg   string
}

func NewInputError(param, value, msg string) *InputError {
	return &InputError{Param: param, Value: value, Msg: msg}
}

func (e *InputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Param, e.Msg)
	}

	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Msg)
}
