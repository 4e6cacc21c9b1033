// Package telemetry provides OpenTelemetry instrumentation for vidsight.
//
// It owns the TracerProvider and MeterProvider and exports over OTLP (gRPC or
// HTTP/protobuf) to a collector. Packages create their own tracer and meter
// through the otel globals, so installing the providers here is enough to
// light up chunk, window and storage spans.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(appCfg.Observability, version))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Exporter failures never stop the daemon. They are listed by Degraded.
//
// Tests record spans in memory with RecordSpans, before building the
// components under test:
//
//	spans := telemetry.RecordSpans(t)
//	// ... build and exercise the runner ...
//	spans.AssertSpan(t, "pipeline.ProcessWindow", attribute.Int("window.index", 0))
package telemetry
