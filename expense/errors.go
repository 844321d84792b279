/*
errors.go - Centralized error types for the expense domain

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every error a stream event can produce maps to exactly one terminal
  disposition in the consumer: apply, acknowledge-as-duplicate, or
  dead-letter. Nothing is silently dropped.

ERROR CATEGORIES:
  1. Decode errors     - Malformed payloads (dead-lettered, non-fatal)
  2. State errors      - Invalid transitions, duplicate creates
  3. Concurrency errors- Version conflicts (retried with a fresh read)
  4. Store errors      - Missing records, transient infra failures

USAGE:
    if errors.Is(err, expense.ErrEventAlreadyApplied) {
        // redelivery, acknowledge without re-applying
    }
*/
package expense

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced expense doesn't exist.
	ErrNotFound = errors.New("expense not found")

	// ErrAlreadyExists is returned by Store.Create when the id is taken.
	ErrAlreadyExists = errors.New("expense already exists")

	// ErrDuplicateCreate is returned when a CREATED event targets an
	// existing expense. Expected under at-least-once delivery.
	ErrDuplicateCreate = errors.New("duplicate create event")

	// ErrEventAlreadyApplied is returned when an event id is found in the
	// expense's recent-events window. The redelivery is acknowledged as
	// success without re-applying.
	ErrEventAlreadyApplied = errors.New("event already applied")

	// ErrInvalidTransition is returned when a status change targets an
	// expense that is already terminal.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTarget is returned when a transition request names a status
	// that is not a legal target (only APPROVED and DECLINED are).
	ErrInvalidTarget = errors.New("invalid target status")

	// ErrVersionConflict is returned when a conditional write loses the
	// race. Signals contention, not failure: retry with a fresh read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnavailable is returned on transient storage failures.
	// Retried with backoff; the consumer pauses rather than dropping events.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DecodeError reports a malformed event payload. It carries the raw bytes so
// the dead-letter sink has the full payload for operator inspection.
// Decoding is pure: a given payload always fails (or succeeds) the same way.
type DecodeError struct {
	Raw    []byte
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode event: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode event: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// InvalidTransitionError distinguishes "already in target state" from
// "conflicting terminal state" for callers that care.
type InvalidTransitionError struct {
	ID      string
	Current Status
	Target  Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("expense %s: cannot transition %s -> %s", e.ID, e.Current, e.Target)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AlreadyTarget reports whether the rejected request asked for the status
// the expense already holds.
func (e *InvalidTransitionError) AlreadyTarget() bool { return e.Current == e.Target }

// VersionConflictError reports an optimistic-concurrency loss.
type VersionConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("expense %s: version conflict (expected %d, actual %d)", e.ID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports contention errors that should be retried with a fresh
// read, not backoff.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsRetryable reports transient infra failures that should be retried with
// backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound reports a missing expense.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
