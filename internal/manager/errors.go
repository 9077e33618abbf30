package manager

import (
	"errors"
	"fmt"
)

// ErrModelNotFound returns an error when a requested model id is not present in the catalog.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// illegalTransitionError rejects an operation the current state does not allow.
type illegalTransitionError struct {
	id       string
	from, to State
	reason   string
}

func (e illegalTransitionError) Error() string {
	return fmt.Sprintf("model %s: cannot move from %s to %s: %s", e.id, e.from, e.to, e.reason)
}

func ErrIllegalTransition(id string, from, to State, reason string) error {
	return illegalTransitionError{id: id, from: from, to: to, reason: reason}
}

// IsIllegalTransition reports whether err rejects a state change (HTTP 400).
func IsIllegalTransition(err error) bool {
	var e illegalTransitionError
	return errors.As(err, &e)
}

// resourceExhaustedError means eviction could not bring usage under the threshold.
type resourceExhaustedError struct {
	id             string
	percent, limit float64
}

func (e resourceExhaustedError) Error() string {
	return fmt.Sprintf("model %s: accelerator memory at %.1f%% exceeds %.1f%% with nothing left to evict", e.id, e.percent, e.limit)
}

func ErrResourceExhausted(id string, percent, limit float64) error {
	return resourceExhaustedError{id: id, percent: percent, limit: limit}
}

func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}

// integrityError reports a checksum mismatch after a completed transfer.
type integrityError struct {
	id, want, got string
}

func (e integrityError) Error() string {
	return fmt.Sprintf("model %s: checksum mismatch: want %s, got %s", e.id, e.want, e.got)
}

func ErrIntegrity(id, want, got string) error { return integrityError{id: id, want: want, got: got} }

func IsIntegrity(err error) bool {
	var e integrityError
	return errors.As(err, &e)
}

// transientIOError wraps network and filesystem failures that may succeed on retry.
type transientIOError struct {
	id, op string
	err    error
}

func (e transientIOError) Error() string {
	return fmt.Sprintf("model %s: %s: %v", e.id, e.op, e.err)
}

func (e transientIOError) Unwrap() error { return e.err }

func ErrTransientIO(id, op string, err error) error {
	return transientIOError{id: id, op: op, err: err}
}

func IsTransientIO(err error) bool {
	var e transientIOError
	return errors.As(err, &e)
}
