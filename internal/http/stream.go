package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/push"
	"github.com/fyrsmithlabs/vidsight/internal/session"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the auth gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscribe opens the push subscription of the session in the path. For
// a session that is already terminal, or becomes terminal while the
// subscription is set up, it returns a nil subscription and the session.
func (s *Server) subscribe(c echo.Context) (*push.Subscription, *session.Session, error) {
	if s.nc == nil {
		return nil, nil, echo.NewHTTPError(http.StatusServiceUnavailable, "live updates are not configured")
	}
	sess, err := s.ownedSession(c)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.Terminal() {
		return nil, sess, nil
	}
	sub, err := push.Subscribe(s.nc, s.config.SubjectPrefix, sess.ID)
	if err != nil {
		s.logger.Error(c.Request().Context(), "subscribe failed", zap.Error(err))
		return nil, nil, echo.NewHTTPError(http.StatusServiceUnavailable, "live updates unavailable")
	}
	// The final status event may have been published before the
	// subscription existed.
	if again, err := s.sessions.GetSession(c.Request().Context(), sess.ID); err == nil && again.Status.Terminal() {
		_ = sub.Close()
		return nil, again, nil
	}
	return sub, sess, nil
}

// relay forwards events from sub to send until a terminal status event,
// a send error or ctx is done. tick is called after every idle heartbeat
// interval.
func (s *Server) relay(ctx context.Context, sub *push.Subscription, send func([]byte) error, tick func() error) error {
	for {
		wait, cancel := context.WithTimeout(ctx, s.config.Heartbeat)
		ev, raw, err := sub.Next(wait)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := tick(); err != nil {
				return err
			}
			continue
		default:
			return err
		}
		if err := send(raw); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
}

func (s *Server) handleStream(c echo.Context) error {
	sub, sess, err := s.subscribe(c)
	if err != nil {
		return err
	}
	ctx := logging.WithSessionID(c.Request().Context(), sess.ID)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if sub == nil {
		return writeSSE(w, finalStatusEvent(sess))
	}
	defer sub.Close()
	defer s.metrics.trackStream(ctx, transportSSE)()

	err = s.relay(ctx, sub,
		func(raw []byte) error { return writeSSE(w, raw) },
		func() error {
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			w.Flush()
			return nil
		})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug(ctx, "event stream ended", zap.Error(err))
	}
	return nil
}

func writeSSE(w *echo.Response, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleWebSocket(c echo.Context) error {
	sub, sess, err := s.subscribe(c)
	if err != nil {
		return err
	}
	if sub != nil {
		defer sub.Close()
	}
	ctx := logging.WithSessionID(c.Request().Context(), sess.ID)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	send := func(raw []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, raw)
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
			time.Now().Add(2*time.Second))
	}

	if sub == nil {
		if err := send(finalStatusEvent(sess)); err == nil {
			closeNormal()
		}
		return nil
	}

	defer s.metrics.trackStream(ctx, transportWS)()

	// The client never sends; reading only detects that it went away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.relay(ctx, sub, send, func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
	})
	if err == nil {
		closeNormal()
	} else if !errors.Is(err, context.Canceled) {
		s.logger.Debug(ctx, "websocket stream ended", zap.Error(err))
	}
	return nil
}

// finalStatusEvent renders the status event of a finished session.
func finalStatusEvent(sess *session.Session) []byte {
	raw, _ := json.Marshal(push.Event{
		Type:      push.TypeSessionStatus,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Timestamp: time.Now().UnixMilli(),
	})
	return raw
}
