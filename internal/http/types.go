package http

import (
	"time"

	"github.com/fyrsmithlabs/vidsight/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// CreateSessionRequest is the request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	AIModel      string `json:"aiModel"`
	AnalysisMode string `json:"analysisMode"`
	KeepVideo    bool   `json:"keepVideo"`
	StorageType  string `json:"storageType"`
}

// SessionResponse is the public view of a session.
type SessionResponse struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	Title              string     `json:"title,omitempty"`
	AIModel            string     `json:"aiModel"`
	AnalysisMode       string     `json:"analysisMode"`
	KeepVideo          bool       `json:"keepVideo"`
	StorageType        string     `json:"storageType"`
	CurrentVideoLength float64    `json:"currentVideoLength"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
}

// SessionStatusResponse is the response body for GET /api/v1/sessions/:id.
type SessionStatusResponse struct {
	SessionResponse
	TotalChunks    int `json:"totalChunks"`
	AnalyzedChunks int `json:"analyzedChunks"`
}

// UpdateTitleRequest is the request body for PUT /api/v1/sessions/:id/title.
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// ConfigResponse is the response body for GET /api/v1/config.
type ConfigResponse struct {
	WindowSize               float64 `json:"windowSize"`
	WindowStep               float64 `json:"windowStep"`
	MinWindowSize            float64 `json:"minWindowSize"`
	RecommendedChunkDuration float64 `json:"recommendedChunkDuration"`
}

// ChunkAccepted is the response body for a queued chunk upload.
type ChunkAccepted struct {
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
	Status     string `json:"status"`
}

// RecordResponse is one analysis result.
type RecordResponse struct {
	WindowIndex int       `json:"windowIndex"`
	Content     string    `json:"content"`
	StartOffset float64   `json:"startOffset"`
	EndOffset   float64   `json:"endOffset"`
	VideoPath   string    `json:"videoPath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:                 s.ID,
		Status:             string(s.Status),
		Title:              s.Title,
		AIModel:            s.AIModel,
		AnalysisMode:       string(s.AnalysisMode),
		KeepVideo:          s.KeepVideo,
		StorageType:        s.StorageType,
		CurrentVideoLength: s.CurrentVideoLength,
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
	}
}

func toRecordResponse(r *session.AnalysisRecord, keepVideo bool) RecordResponse {
	out := RecordResponse{
		WindowIndex: r.WindowIndex,
		Content:     r.DisplayContent(),
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		CreatedAt:   r.CreatedAt,
	}
	// Without keepVideo the object no longer exists.
	if keepVideo {
		out.VideoPath = r.VideoPath
	}
	return out
}
