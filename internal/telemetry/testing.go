package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// SpanRecorder keeps finished spans in memory for tests.
type SpanRecorder struct {
	rec *tracetest.SpanRecorder
	tp  *sdktrace.TracerProvider
}

// RecordSpans installs an in-memory tracer provider as the otel global
// until the test ends. Components resolve their tracer when they are
// constructed, so build them after this call.
func RecordSpans(tb testing.TB) *SpanRecorder {
	tb.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return &SpanRecorder{rec: rec, tp: tp}
}

// TracerProvider returns the recording provider.
func (r *SpanRecorder) TracerProvider() *sdktrace.TracerProvider {
	return r.tp
}

// Named returns the finished spans called name, in the order they ended.
func (r *SpanRecorder) Named(name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range r.rec.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// Names lists every finished span name.
func (r *SpanRecorder) Names() []string {
	ended := r.rec.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Attr returns the value of key on span.
func Attr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// AssertSpan fails tb unless some finished span called name carries every
// attribute in want. It returns the matching span, or nil.
func (r *SpanRecorder) AssertSpan(tb testing.TB, name string, want ...attribute.KeyValue) sdktrace.ReadOnlySpan {
	tb.Helper()
	candidates := r.Named(name)
	if len(candidates) == 0 {
		tb.Errorf("no span %q recorded; got %v", name, r.Names())
		return nil
	}
	for _, s := range candidates {
		if hasAll(s, want) {
			return s
		}
	}
	tb.Errorf("no span %q with attributes %v among %d recorded", name, want, len(candidates))
	return nil
}

func hasAll(span sdktrace.ReadOnlySpan, want []attribute.KeyValue) bool {
	for _, kv := range want {
		got, ok := Attr(span, kv.Key)
		if !ok || got != kv.Value {
			return false
		}
	}
	return true
}
