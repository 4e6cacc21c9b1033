package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const protocolHTTP = "http/protobuf"

// newResource names the daemon in every exported span and metric. It is
// built standalone so its schema URL cannot clash with resource.Default.
func newResource(cfg *Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

// transport is the connection setup shared by the trace and metric
// exporters.
type transport struct {
	http     bool
	endpoint string
	insecure bool
	// tls is set only when verification is skipped for an internal CA.
	tls *tls.Config
}

func transportFor(cfg *Config) transport {
	t := transport{
		http:     cfg.Protocol == protocolHTTP,
		endpoint: cfg.Endpoint,
		insecure: cfg.Insecure,
	}
	if t.http {
		// The HTTP exporters take host:port only.
		t.endpoint = stripScheme(cfg.Endpoint)
	}
	if !cfg.Insecure && cfg.TLSSkipVerify {
		t.tls = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for private collectors
	}
	return t
}

func (t transport) traceExporter(ctx context.Context) (trace.SpanExporter, error) {
	if t.http {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.endpoint)}
		switch {
		case t.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case t.tls != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(t.tls))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint)}
	switch {
	case t.insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case t.tls != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// cumulative pins metric temporality regardless of
// OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE; Prometheus-style
// backends cannot ingest deltas.
func cumulative(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (t transport) metricExporter(ctx context.Context) (metric.Exporter, error) {
	if t.http {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(t.endpoint),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case t.insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case t.tls != nil:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(t.tls))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(t.endpoint),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	switch {
	case t.insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case t.tls != nil:
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// samplerFor samples root spans at rate and otherwise follows the parent,
// so a chunk upload traced by the gateway stays traced through its
// window analyses.
func samplerFor(rate float64) trace.Sampler {
	var root trace.Sampler
	switch {
	case rate >= 1:
		root = trace.AlwaysSample()
	case rate <= 0:
		root = trace.NeverSample()
	default:
		root = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(root)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*trace.TracerProvider, error) {
	exporter, err := transportFor(cfg).traceExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(samplerFor(cfg.SampleRate)),
	), nil
}

// newMeterProvider returns nil when metric export is off.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*metric.MeterProvider, error) {
	if cfg.MetricInterval == 0 {
		return nil, nil
	}
	exporter, err := transportFor(cfg).metricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.MetricInterval))
	return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader)), nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
