// Package push forwards analysis increments and session status changes to
// live subscribers. Delivery is best effort: publishing never fails the
// caller, and a subscriber that connects late misses earlier events.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

// Event types.
const (
	TypeAnalysisResult = "analysis_result"
	TypeSessionStatus  = "session_status"
)

// Event is the JSON payload delivered to subscribers.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`

	// WindowIndex is set on every analysis event, including window 0.
	WindowIndex *int   `json:"windowIndex,omitempty"`
	Content     string `json:"content,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Status      string `json:"status,omitempty"`

	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Window returns the window index of an analysis event, or -1.
func (e Event) Window() int {
	if e.WindowIndex == nil {
		return -1
	}
	return *e.WindowIndex
}

// Terminal reports whether the event announces the end of a session.
func (e Event) Terminal() bool {
	return e.Type == TypeSessionStatus && (e.Status == "COMPLETED" || e.Status == "FAILED")
}

// Publisher is the push sink used by the pipeline.
type Publisher interface {
	PublishDelta(ctx context.Context, sessionID string, windowIndex int, d aiservice.Delta)
	PublishStatus(ctx context.Context, sessionID, status string)
}

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vidsight",
	Subsystem: "push",
	Name:      "events_total",
	Help:      "Push events by type and result.",
}, []string{"type", "result"})

// AnalysisSubject carries a session's analysis increments.
func AnalysisSubject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.%s.analysis", prefix, sessionID)
}

// StatusSubject carries a session's status changes.
func StatusSubject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.%s.status", prefix, sessionID)
}

// SessionWildcard matches every subject of one session.
func SessionWildcard(prefix, sessionID string) string {
	return fmt.Sprintf("%s.%s.*", prefix, sessionID)
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("vidsight"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes events as JSON on per-session subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher. prefix defaults to "sessions".
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "sessions"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

func (p *NATSPublisher) PublishDelta(ctx context.Context, sessionID string, windowIndex int, d aiservice.Delta) {
	p.publish(ctx, AnalysisSubject(p.prefix, sessionID), Event{
		Type:        TypeAnalysisResult,
		SessionID:   sessionID,
		WindowIndex: &windowIndex,
		Content:     d.Content,
		Final:       d.Final,
		Timestamp:   p.now().UnixMilli(),
	})
}

func (p *NATSPublisher) PublishStatus(ctx context.Context, sessionID, status string) {
	p.publish(ctx, StatusSubject(p.prefix, sessionID), Event{
		Type:      TypeSessionStatus,
		SessionID: sessionID,
		Status:    status,
		Timestamp: p.now().UnixMilli(),
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, ev Event) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = p.nc.Publish(subject, data)
	}
	if err != nil {
		publishTotal.WithLabelValues(ev.Type, "error").Inc()
		p.logger.Warn(ctx, "push publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	publishTotal.WithLabelValues(ev.Type, "ok").Inc()
	p.logger.Trace(ctx, "push event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishDelta(context.Context, string, int, aiservice.Delta) {}
func (Nop) PublishStatus(context.Context, string, string)              {}

// Subscription delivers a session's events until Close.
type Subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// Subscribe listens to every event of sessionID.
func Subscribe(nc *nats.Conn, prefix, sessionID string) (*Subscription, error) {
	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(SessionWildcard(prefix, sessionID), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &Subscription{sub: sub, ch: ch}, nil
}

// Next blocks until an event arrives or ctx is done. Undecodable messages
// are skipped.
func (s *Subscription) Next(ctx context.Context) (Event, []byte, error) {
	for {
		select {
		case msg := <-s.ch:
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			return ev, msg.Data, nil
		case <-ctx.Done():
			return Event{}, nil, ctx.Err()
		}
	}
}

func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}
