package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/vidsight/internal/http"

// chunkRoute is the route whose request bodies are recorded as uploads.
const chunkRoute = "/api/v1/sessions/:id/chunks"

// Live stream transports, used as the "transport" attribute.
const (
	transportSSE = "sse"
	transportWS  = "ws"
)

// HTTPMetrics records API traffic. Live streams are counted apart from
// requests because an SSE or WebSocket request lasts as long as the
// session it follows.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *logging.Logger

	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	uploadBytes metric.Int64Histogram
	liveStreams metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	warn := func(name string, err error) {
		if err != nil {
			m.logger.Warn(ctx, "failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}
	var err error

	m.requests, err = m.meter.Int64Counter("vidsight.http.requests_total",
		metric.WithDescription("API requests by method, route and status code."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.latency, err = m.meter.Float64Histogram("vidsight.http.request_duration_seconds",
		metric.WithDescription("Time to answer an API request. Live streams are excluded."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10, 30))
	warn("request_duration_seconds", err)

	m.uploadBytes, err = m.meter.Int64Histogram("vidsight.http.chunk_upload_bytes",
		metric.WithDescription("Size of accepted chunk upload bodies."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64<<10, 256<<10, 1<<20, 4<<20, 16<<20, 64<<20, 200<<20))
	warn("chunk_upload_bytes", err)

	m.liveStreams, err = m.meter.Int64UpDownCounter("vidsight.http.live_streams",
		metric.WithDescription("Open SSE and WebSocket session streams."),
		metric.WithUnit("{stream}"))
	warn("live_streams", err)
}

// MetricsMiddleware returns an Echo middleware that records request
// counts, latency and chunk upload sizes by route pattern.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			ctx := req.Context()
			route := normalizePath(c.Path())
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", route),
				attribute.String("status", strconv.Itoa(status)),
			)

			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil && !isStreamRoute(route) {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploadBytes != nil && route == chunkRoute && status < 300 && req.ContentLength > 0 {
				m.uploadBytes.Record(ctx, req.ContentLength)
			}
			return err
		}
	}
}

// trackStream counts an open live stream. The returned func closes it.
func (m *HTTPMetrics) trackStream(ctx context.Context, transport string) func() {
	if m == nil || m.liveStreams == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(attribute.String("transport", transport))
	m.liveStreams.Add(ctx, 1, attrs)
	return func() { m.liveStreams.Add(context.WithoutCancel(ctx), -1, attrs) }
}

func isStreamRoute(route string) bool {
	return route == "/api/v1/sessions/:id/stream" || route == "/api/v1/sessions/:id/ws"
}

// normalizePath returns the registered route pattern, so
// /api/v1/sessions/:id is one label no matter how many sessions exist.
// Unmatched requests have no route and share "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
