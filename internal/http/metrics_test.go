package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST(chunkRoute, func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})

	for _, path := range []string{"/health", "/api/v1/sessions/a", "/api/v1/sessions/b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/a/chunks", strings.NewReader("0123456789")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	done := m.trackStream(context.Background(), transportSSE)
	m.trackStream(context.Background(), transportWS)
	done()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			found[mm.Name] = true
			switch mm.Name {
			case "vidsight.http.requests_total":
				sum, ok := mm.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byEndpoint := map[string]int64{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					byEndpoint[v.AsString()] += dp.Value
				}
				assert.Equal(t, map[string]int64{"/health": 1, "/api/v1/sessions/:id": 2, chunkRoute: 1}, byEndpoint)
			case "vidsight.http.request_duration_seconds":
				hist, ok := mm.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(4), total)
			case "vidsight.http.chunk_upload_bytes":
				hist, ok := mm.Data.(metricdata.Histogram[int64])
				require.True(t, ok)
				require.Len(t, hist.DataPoints, 1)
				assert.Equal(t, int64(10), hist.DataPoints[0].Sum)
			case "vidsight.http.live_streams":
				sum, ok := mm.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				open := map[string]int64{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("transport"))
					open[v.AsString()] = dp.Value
				}
				assert.Equal(t, map[string]int64{transportSSE: 0, transportWS: 1}, open)
			}
		}
	}
	assert.True(t, found["vidsight.http.requests_total"])
	assert.True(t, found["vidsight.http.request_duration_seconds"])
	assert.True(t, found["vidsight.http.chunk_upload_bytes"])
	assert.True(t, found["vidsight.http.live_streams"])
}

func TestNilMetricsTrackStream(t *testing.T) {
	var m *HTTPMetrics
	assert.NotPanics(t, func() { m.trackStream(context.Background(), transportSSE)() })
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/sessions/:id/chunks", normalizePath("/api/v1/sessions/:id/chunks"))
}
