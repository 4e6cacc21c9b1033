// Package pushtest provides a recording push sink for tests.
package pushtest

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/push"
)

// Recorder keeps every published event in order.
type Recorder struct {
	mu     sync.Mutex
	events []push.Event
}

var _ push.Publisher = (*Recorder)(nil)

func (r *Recorder) PublishDelta(_ context.Context, sessionID string, windowIndex int, d aiservice.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, push.Event{
		Type:        push.TypeAnalysisResult,
		SessionID:   sessionID,
		WindowIndex: &windowIndex,
		Content:     d.Content,
		Final:       d.Final,
	})
}

func (r *Recorder) PublishStatus(_ context.Context, sessionID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, push.Event{Type: push.TypeSessionStatus, SessionID: sessionID, Status: status})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []push.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]push.Event(nil), r.events...)
}

// Deltas returns the recorded analysis events for one window.
func (r *Recorder) Deltas(windowIndex int) []push.Event {
	var out []push.Event
	for _, e := range r.Events() {
		if e.Type == push.TypeAnalysisResult && e.Window() == windowIndex {
			out = append(out, e)
		}
	}
	return out
}
