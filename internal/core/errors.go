package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories and tenant lookups.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is wrapped by every TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidConfig is wrapped by configuration bag validation failures.
	ErrInvalidConfig = errors.New("invalid import configuration")

	// ErrNoScheduler is returned when the service has no job scheduler.
	ErrNoScheduler = errors.New("no job scheduler configured")
)

// TransitionError reports a rejected state change.
type TransitionError struct {
	Kind     string
	ID       uuid.UUID
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid state transition %s -> %s", e.Kind, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PreconditionError fails a job or file before any record is written: an
// unknown organization or scope, an unreachable origin, a failed download.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

func precondition(op string, err error) error {
	return &PreconditionError{Op: op, Err: err}
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
