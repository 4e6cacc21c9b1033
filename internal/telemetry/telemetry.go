package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry owns the trace and metric providers installed as the otel
// globals. Exporter setup failures leave the daemon running without them
// and are reported by Degraded.
type Telemetry struct {
	cfg  *Config
	tp   *trace.TracerProvider
	mp   *sdkmetric.MeterProvider
	logs log.LoggerProvider

	mu     sync.Mutex
	faults []string
}

// New validates cfg and, when enabled, installs the exporters as the
// global providers. Pipeline components resolve their tracers and meters
// from the globals, so New runs before they are built.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.fault("traces: %v", err)
	} else {
		t.tp = tp
		otel.SetTracerProvider(tp)
	}
	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.fault("metrics: %v", err)
	} else if mp != nil {
		t.mp = mp
		otel.SetMeterProvider(mp)
	}
	// Chunk uploads forwarded by a gateway carry its traceparent.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	t.logs = global.GetLoggerProvider()
	return t, nil
}

func (t *Telemetry) fault(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = append(t.faults, fmt.Sprintf(format, args...))
}

// Enabled reports whether export was requested.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.cfg.Enabled
}

// Degraded lists exporters that failed to start. It is empty when export
// is disabled or fully working.
func (t *Telemetry) Degraded() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.faults...)
}

// LoggerProvider is the log bridge target, the otel global log provider.
// It is nil when export is disabled.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logs
}

// Shutdown flushes and stops the providers. Without a deadline on ctx it
// waits at most the configured shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}
	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
