// Package store persists sessions, chunks, analysis records and user memory.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/vidsight/internal/session"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateChunk is returned when a chunk index was already stored
	// for the session.
	ErrDuplicateChunk = errors.New("duplicate chunk index")

	// ErrWindowIndexMismatch is returned when an analysis record's window
	// index is not equal to the number of records already stored.
	ErrWindowIndexMismatch = errors.New("window index does not match record count")
)

// Store is the persistence boundary of the pipeline.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	// UpdateSession saves the pipeline-owned fields of s. The title is
	// written only through SetSessionTitle.
	UpdateSession(ctx context.Context, s *session.Session) error
	SetSessionTitle(ctx context.Context, id, title string) error
	ListSessions(ctx context.Context, userID string) ([]*session.Session, error)
	// DeleteSession removes the session with its chunks and records.
	DeleteSession(ctx context.Context, id string) error

	CreateChunk(ctx context.Context, c *session.VideoChunk) error
	UpdateChunk(ctx context.Context, c *session.VideoChunk) error
	ListChunks(ctx context.Context, sessionID string) ([]*session.VideoChunk, error)

	// AppendAnalysisRecord inserts r. r.WindowIndex must equal the current
	// record count for the session.
	AppendAnalysisRecord(ctx context.Context, r *session.AnalysisRecord) error
	CountAnalysisRecords(ctx context.Context, sessionID string) (int, error)
	// LastAnalysisRecord returns nil without error when none exist.
	LastAnalysisRecord(ctx context.Context, sessionID string) (*session.AnalysisRecord, error)
	ListAnalysisRecords(ctx context.Context, sessionID string) ([]*session.AnalysisRecord, error)

	// GetUserMemory returns session.EmptyMemory for users with no memory.
	GetUserMemory(ctx context.Context, userID string) (string, error)
	PutUserMemory(ctx context.Context, userID, memory string) error

	Close() error
}
