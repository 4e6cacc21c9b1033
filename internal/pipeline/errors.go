package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. A *StageError matches its kind with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrMediaOps    = errors.New("media operation failed")
	ErrStorage     = errors.New("storage operation failed")
	ErrAI          = errors.New("ai analysis failed")
	ErrCleanup     = errors.New("cleanup failed")
	ErrPersistence = errors.New("persistence failed")

	// ErrQueueFull is returned by Submit when the work queue is at capacity.
	ErrQueueFull = errors.New("work queue is full")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a session with chunk work in flight
	// is deleted.
	ErrSessionBusy = errors.New("session has chunk work in flight")

	// ErrShuttingDown is returned by Submit after the dispatcher stopped.
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// StageError records where in the pipeline a failure happened.
type StageError struct {
	Kind      error
	Stage     string
	SessionID string
	// WindowIndex is -1 when the failure is not tied to a window.
	WindowIndex int
	Err         error
}

func (e *StageError) Error() string {
	if e.WindowIndex >= 0 {
		return fmt.Sprintf("%s: session %s window %d: %v: %v", e.Stage, e.SessionID, e.WindowIndex, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: session %s: %v: %v", e.Stage, e.SessionID, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the error kind, so errors.Is(err, ErrStorage) works without
// the kind being part of the wrapped chain.
func (e *StageError) Is(target error) bool { return target == e.Kind }

func stageErr(kind error, stage, sessionID string, windowIndex int, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, SessionID: sessionID, WindowIndex: windowIndex, Err: err}
}

// KindOf returns the kind of a pipeline error, or nil.
func KindOf(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, k := range []error{ErrQueueFull, ErrSessionNotFound, ErrShuttingDown} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
