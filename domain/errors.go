package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTaskNotFound is returned when no task exists for the given ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrConcurrencyConflict signals a lost optimistic-concurrency race in
// the repository. Callers retry the read-mutate-write cycle or surface
// a ConflictError once the status expectation no longer holds.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError rejects a malformed or incomplete command before any
// state is touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateError rejects a command issued against a task that is not in a
// legal source state for that command.
type StateError struct {
	TaskID   string
	Current  TaskStatus
	Expected []TaskStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("task %s is %s, expected one of %v", e.TaskID, e.Current, e.Expected)
}

// ConflictError is the repository's answer to a failed compare-and-swap:
// the task's status no longer matches the caller's expectation.
type ConflictError struct {
	Current TaskStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("status changed concurrently, now %s", e.Current)
}

// AuthorizationError rejects a command from a caller who is neither the
// task's client nor its assigned worker for the given operation.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

func authorizationErrorf(format string, args ...any) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// SelfAssignmentError rejects a client accepting their own task.
type SelfAssignmentError struct {
	TaskID string
}

func (e *SelfAssignmentError) Error() string {
	return fmt.Sprintf("cannot accept own task %s", e.TaskID)
}

// GeofenceError carries the measured distance so callers can render a
// precise rejection message.
type GeofenceError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("you are %.0fm away; must be within %.0fm of the task location", e.DistanceMeters, e.RadiusMeters)
}

// DisputeWindowClosedError rejects a dispute filed after the deadline.
type DisputeWindowClosedError struct {
	Deadline time.Time
}

func (e *DisputeWindowClosedError) Error() string {
	return fmt.Sprintf("dispute window closed at %s", e.Deadline.UTC().Format(time.RFC3339))
}
