package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "vidsight", cfg.ServiceName)
	assert.Equal(t, "grpc", cfg.Protocol)
	require.NoError(t, cfg.Validate())
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "vidsight-edge",
		OTLPEndpoint:    "127.0.0.1:4317",
	}, "1.4.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "vidsight-edge", cfg.ServiceName)
	assert.Equal(t, "127.0.0.1:4317", cfg.Endpoint)
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())

	cfg = FromObservability(config.ObservabilityConfig{}, "")
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "dev", cfg.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, "endpoint is required"},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "unsupported protocol"},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "collector.example.com:4317" }, "loopback"},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, "sample rate"},
		{"local insecure ok", func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" }, ""},
		{"remote tls ok", func(c *Config) { c.Enabled = true; c.Insecure = false; c.Endpoint = "collector.example.com:4317" }, ""},
		{"metrics off ok", func(c *Config) { c.Enabled = true; c.MetricInterval = 0 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoopback(t *testing.T) {
	for _, ep := range []string{"localhost:4317", "127.0.0.1:4317", "127.3.2.1", "[::1]:4317", "::1", "http://localhost:4318"} {
		assert.True(t, loopback(ep), ep)
	}
	for _, ep := range []string{"collector.example.com:4317", "10.0.0.5:4317", "localhost.evil.io:4317"} {
		assert.False(t, loopback(ep), ep)
	}
}

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.Empty(t, tel.Degraded())
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledInstallsProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	// Exporters connect lazily, so no collector needs to be listening.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, tel.Enabled())
	assert.Empty(t, tel.Degraded())
	assert.NotNil(t, tel.LoggerProvider())
	assert.Same(t, tel.tp, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Enabled())
	assert.Empty(t, tel.Degraded())
	assert.Nil(t, tel.LoggerProvider())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.local:4318", stripScheme("https://otel.local:4318"))
	assert.Equal(t, "otel.local:4318", stripScheme("http://otel.local:4318"))
	assert.Equal(t, "otel.local:4318", stripScheme("otel.local:4318"))
}

func TestTransportFor(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Endpoint = "https://otel.internal:4318"
	cfg.Protocol = protocolHTTP
	cfg.Insecure = false
	cfg.TLSSkipVerify = true

	tr := transportFor(cfg)
	assert.True(t, tr.http)
	assert.Equal(t, "otel.internal:4318", tr.endpoint)
	require.NotNil(t, tr.tls)
	assert.True(t, tr.tls.InsecureSkipVerify)

	cfg.Protocol = "grpc"
	cfg.Endpoint = "localhost:4317"
	cfg.Insecure = true
	tr = transportFor(cfg)
	assert.False(t, tr.http)
	assert.Equal(t, "localhost:4317", tr.endpoint)
	assert.Nil(t, tr.tls, "insecure connections carry no TLS settings")
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
	assert.True(t, strings.HasPrefix(samplerFor(0.25).Description(), "ParentBased"))
}

func TestRecordSpans(t *testing.T) {
	spans := RecordSpans(t)

	tracer := otel.Tracer("test")
	for i := 0; i < 2; i++ {
		_, span := tracer.Start(context.Background(), "pipeline.ProcessWindow")
		span.SetAttributes(attribute.Int("window.index", i))
		span.End()
	}

	assert.Len(t, spans.Named("pipeline.ProcessWindow"), 2)
	got := spans.AssertSpan(t, "pipeline.ProcessWindow", attribute.Int("window.index", 1))
	require.NotNil(t, got)
	v, ok := Attr(got, "window.index")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.AsInt64())
	assert.Equal(t, []string{"pipeline.ProcessWindow", "pipeline.ProcessWindow"}, spans.Names())
}
