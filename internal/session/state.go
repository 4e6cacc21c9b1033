package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminal is returned when work is attempted on a finished session.
	ErrTerminal = errors.New("session is in a terminal state")

	// ErrLengthRegression is returned when a probe reports a shorter master
	// video than previously recorded.
	ErrLengthRegression = errors.New("video length decreased")
)

// NewParams holds the caller-supplied attributes of a new session.
type NewParams struct {
	UserID       string
	AIModel      string
	AnalysisMode AnalysisMode
	KeepVideo    bool
	StorageType  string
}

// New creates a RECORDING session. windowStep seeds LastWindowStartTime so
// that the first window starts at offset zero.
func New(p NewParams, windowStep float64, now time.Time) *Session {
	mode := p.AnalysisMode
	if mode == "" {
		mode = ModeSlidingWindow
	}
	return &Session{
		ID:                  uuid.New().String(),
		UserID:              p.UserID,
		Status:              StatusRecording,
		AIModel:             p.AIModel,
		AnalysisMode:        mode,
		KeepVideo:           p.KeepVideo,
		StorageType:         p.StorageType,
		LastWindowStartTime: -windowStep,
		StartTime:           now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// CanTransition reports whether the lifecycle allows from -> to.
//
//	RECORDING -> ANALYZING | COMPLETED | FAILED
//	ANALYZING -> ANALYZING | COMPLETED | FAILED
//
// Terminal states have no outgoing edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusRecording:
		return to == StatusAnalyzing || to == StatusCompleted || to == StatusFailed
	case StatusAnalyzing:
		return to == StatusAnalyzing || to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Transition moves the session to the given status, stamping EndTime when
// the new status is terminal.
func (s *Session) Transition(to Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		if s.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s: %w", ErrInvalidTransition, s.Status, to, ErrTerminal)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	if to.Terminal() {
		end := now
		s.EndTime = &end
	}
	return nil
}

// AcceptsChunks reports whether new chunks may be folded into the session.
func (s *Session) AcceptsChunks() bool {
	return !s.Status.Terminal()
}

// ApplyProbedLength records a freshly probed master duration.
func (s *Session) ApplyProbedLength(length float64) error {
	if length < s.CurrentVideoLength {
		return fmt.Errorf("%w: %.3fs -> %.3fs", ErrLengthRegression, s.CurrentVideoLength, length)
	}
	s.CurrentVideoLength = length
	return nil
}
