package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/vidsight/internal/storage"

// instrumented wraps a Gateway with spans, Prometheus metrics and debug logs.
type instrumented struct {
	next   Gateway
	tracer trace.Tracer
	logger *logging.Logger
}

// Instrument wraps g so that every call is traced and counted.
func Instrument(g Gateway, logger *logging.Logger) Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &instrumented{
		next:   g,
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(zap.String("backend", g.Name())),
	}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) observe(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "storage."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("storage.backend", i.next.Name()),
		attribute.String("storage.key", key),
	)

	start := time.Now()
	err := fn(ctx)
	OperationDuration.WithLabelValues(i.next.Name(), op).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Debug(ctx, "storage operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	}
	OperationsTotal.WithLabelValues(i.next.Name(), op, result).Inc()
	return err
}

func (i *instrumented) EnsureReady(ctx context.Context) error {
	return i.observe(ctx, "ensure", "", i.next.EnsureReady)
}

func (i *instrumented) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	var out string
	err := i.observe(ctx, "upload", objectKey, func(ctx context.Context) error {
		var err error
		out, err = i.next.Upload(ctx, localPath, objectKey)
		return err
	})
	return out, err
}

func (i *instrumented) PublicURL(ctx context.Context, objectKey string) (string, error) {
	var out string
	err := i.observe(ctx, "url", objectKey, func(ctx context.Context) error {
		var err error
		out, err = i.next.PublicURL(ctx, objectKey)
		return err
	})
	return out, err
}

func (i *instrumented) Delete(ctx context.Context, objectKey string) error {
	return i.observe(ctx, "delete", objectKey, func(ctx context.Context) error {
		return i.next.Delete(ctx, objectKey)
	})
}
