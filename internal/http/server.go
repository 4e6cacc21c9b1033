// Package http exposes the session API over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/pipeline"
	"github.com/fyrsmithlabs/vidsight/internal/sanitize"
	"github.com/fyrsmithlabs/vidsight/internal/session"
)

// UserIDHeader carries the caller identity. It is set by the auth gateway
// in front of the service and trusted as is.
const UserIDHeader = "X-User-ID"

// SessionService is the part of pipeline.Service the handlers use.
type SessionService interface {
	CreateSession(ctx context.Context, req pipeline.CreateRequest) (*session.Session, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context, userID string) ([]*session.Session, error)
	Records(ctx context.Context, id string) ([]*session.AnalysisRecord, error)
	PrepareChunk(ctx context.Context, sessionID string, chunkIndex int) (string, error)
	SubmitChunk(ctx context.Context, job pipeline.ChunkJob) error
	UpdateTitle(ctx context.Context, id, title string) (*session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ChunkCounts(ctx context.Context, id string) (total, analyzed int, err error)
	ClientConfig() pipeline.ClientConfig
}

// Server provides the HTTP endpoints of vidsight.
type Server struct {
	echo     *echo.Echo
	sessions SessionService
	nc       *nats.Conn
	logger   *logging.Logger
	metrics  *HTTPMetrics
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// MaxUploadMB caps a chunk upload. Default: 200.
	MaxUploadMB int
	// SubjectPrefix must match the push publisher's prefix.
	SubjectPrefix string
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 200
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
}

// NewServer creates a new HTTP server. nc may be nil, in which case the
// live stream endpoints answer 503.
func NewServer(sessions SessionService, nc *nats.Conn, logger *logging.Logger, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		sessions: sessions,
		nc:       nc,
		logger:   logger,
		metrics:  metrics,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/config", s.handleConfig)
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.PUT("/sessions/:id/title", s.handleUpdateTitle)
	v1.GET("/sessions/:id/records", s.handleRecords)
	v1.POST("/sessions/:id/chunks", s.handleUploadChunk,
		middleware.BodyLimit(fmt.Sprintf("%dM", s.config.MaxUploadMB)))
	v1.GET("/sessions/:id/stream", s.handleStream)
	v1.GET("/sessions/:id/ws", s.handleWebSocket)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// apiError maps pipeline errors to HTTP status codes.
func apiError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrSessionBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func userID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(UserIDHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, UserIDHeader+" header is required")
	}
	if err := sanitize.ValidateUserID(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return id, nil
}

// ownedSession loads the session named in the path and checks that it
// belongs to the caller. Other users' sessions look missing.
func (s *Server) ownedSession(c echo.Context) (*session.Session, error) {
	uid, err := userID(c)
	if err != nil {
		return nil, err
	}
	id := c.Param("id")
	if sanitize.ValidateSessionID(id) != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	sess, err := s.sessions.GetSession(c.Request().Context(), id)
	if err != nil {
		return nil, apiError(err)
	}
	if sess.UserID != uid {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return sess, nil
}
