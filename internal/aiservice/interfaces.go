// Package aiservice defines the external media and AI-analysis
// capabilities used by the pipeline, along with their gRPC and
// OpenAI-compatible implementations.
//
// Media operations (probe, concatenate, extract) always run on the media
// service because they need the file system the service shares with the
// daemon. Analysis can run either on the same service or against an
// OpenAI-compatible chat endpoint that accepts video URLs.
package aiservice

import (
	"context"
	"errors"
)

// Analysis mode tags sent with every analysis request.
const (
	ModeTagSlidingWindow = "sliding_window"
	ModeTagFull          = "full"
)

// ErrRemote is wrapped around error strings returned inside an otherwise
// successful RPC response.
var ErrRemote = errors.New("ai service error")

// MediaProcessor probes and cuts video files on local disk.
type MediaProcessor interface {
	// GetDuration returns the true duration of the video in seconds.
	GetDuration(ctx context.Context, path string) (float64, error)
	// Concat joins paths in order into out and returns the written path.
	Concat(ctx context.Context, paths []string, out string) (string, error)
	// ExtractSegment writes [start, end) of in to out.
	ExtractSegment(ctx context.Context, in, out string, start, end float64) (string, error)
	// ExtractTail writes the last duration seconds of in to out.
	ExtractTail(ctx context.Context, in, out string, duration float64) (string, error)
}

// AnalyzeRequest describes one window (or the whole video in full mode).
type AnalyzeRequest struct {
	SessionID   string
	WindowIndex int
	VideoURL    string
	Model       string
	// Context is the trailing summary of the previous window's result.
	Context     string
	StartOffset float64
	EndOffset   float64
	Mode        string
	UserMemory  string
}

// Analyzer runs the AI analysis of a video URL as an incremental stream.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Stream, error)
}

// SummaryRequest carries the refined window results of a completed session.
type SummaryRequest struct {
	SessionID  string
	Results    []string
	UserMemory string
	Model      string
}

// Summarizer produces session-level artifacts after completion.
type Summarizer interface {
	GenerateTitle(ctx context.Context, req SummaryRequest) (string, error)
	// ExtractUserMemory returns a JSON object with newly learned facts about
	// the user. It is merged into the stored memory by the caller.
	ExtractUserMemory(ctx context.Context, req SummaryRequest) (string, error)
}
