// Package session defines the recording session, its chunks and its
// analysis records, together with the lifecycle rules that govern them.
package session

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRecording Status = "RECORDING"
	StatusAnalyzing Status = "ANALYZING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further work may happen in this state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRecording, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AnalysisMode selects how a session's video is analyzed.
type AnalysisMode string

const (
	// ModeSlidingWindow analyzes overlapping windows while recording.
	ModeSlidingWindow AnalysisMode = "SLIDING_WINDOW"
	// ModeFull analyzes the whole recording once, after the last chunk.
	ModeFull AnalysisMode = "FULL"
)

// ParseAnalysisMode parses a mode name, defaulting an empty value to
// ModeSlidingWindow.
func ParseAnalysisMode(s string) (AnalysisMode, bool) {
	switch AnalysisMode(s) {
	case "", ModeSlidingWindow:
		return ModeSlidingWindow, true
	case ModeFull:
		return ModeFull, true
	}
	return "", false
}

// Session is one continuous recording.
type Session struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Status       Status       `json:"status"`
	AIModel      string       `json:"ai_model"`
	AnalysisMode AnalysisMode `json:"analysis_mode"`
	KeepVideo    bool         `json:"keep_video"`
	StorageType  string       `json:"storage_type"`

	// MasterVideoPath is empty until the first chunk has been folded and
	// again after session-level cleanup.
	MasterVideoPath string `json:"master_video_path,omitempty"`

	// LastWindowStartTime is the start offset in seconds of the most
	// recently analyzed window. It starts at minus the window step.
	LastWindowStartTime float64 `json:"last_window_start_time"`

	// CurrentVideoLength is the probed duration of the master video.
	CurrentVideoLength float64 `json:"current_video_length"`

	Title     string     `json:"title,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChunkStatus is the processing state of a single uploaded chunk.
type ChunkStatus string

const (
	ChunkUploaded  ChunkStatus = "UPLOADED"
	ChunkAnalyzing ChunkStatus = "ANALYZING"
	ChunkAnalyzed  ChunkStatus = "ANALYZED"
	ChunkDeleted   ChunkStatus = "DELETED"
)

// VideoChunk is one uploaded segment of a session's recording.
type VideoChunk struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`

	// StoragePath is set only when the chunk itself was persisted to object
	// storage. Chunks folded into the master video leave it empty.
	StoragePath string `json:"storage_path,omitempty"`

	// DeclaredDuration is what the client claimed. It is advisory only.
	DeclaredDuration float64 `json:"declared_duration"`

	Status     ChunkStatus `json:"status"`
	UploadedAt time.Time   `json:"uploaded_at"`
	AnalyzedAt *time.Time  `json:"analyzed_at,omitempty"`
}

// AnalysisRecord is the persisted analysis of one window.
// Records are append-only and numbered 0..N-1 per session without gaps.
type AnalysisRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ChunkID        string    `json:"chunk_id,omitempty"`
	WindowIndex    int       `json:"window_index"`
	Content        string    `json:"content"`
	RefinedContent string    `json:"refined_content"`
	StartOffset    float64   `json:"start_offset"`
	EndOffset      float64   `json:"end_offset"`
	VideoPath      string    `json:"video_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// DisplayContent returns the refined text when present, else the raw text.
func (r *AnalysisRecord) DisplayContent() string {
	if r.RefinedContent != "" {
		return r.RefinedContent
	}
	return r.Content
}

// UserMemory is the accumulated per-user memory document that is handed to
// each analysis call and updated when a session completes.
type UserMemory struct {
	UserID    string    `json:"user_id"`
	Memory    string    `json:"memory"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmptyMemory is the memory document of a user with no history.
const EmptyMemory = "{}"
