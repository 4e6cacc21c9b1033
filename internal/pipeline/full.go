package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
)

// ProcessFull analyzes the whole master video as a single record with
// window index 0 and range [0, length). It is used for FULL mode sessions
// once their last chunk has been folded.
func (p *WindowProcessor) ProcessFull(ctx context.Context, s *session.Session) (string, error) {
	ctx = logging.WithWindowIndex(ctx, 0)
	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessFull", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.Float64("video.length", s.CurrentVideoLength),
	))
	defer span.End()
	began := p.now()

	text, err := p.analyzeObject(ctx, s, s.MasterVideoPath, storage.FullVideoKey(s.ID), aiservice.AnalyzeRequest{
		SessionID:   s.ID,
		WindowIndex: 0,
		Model:       s.AIModel,
		StartOffset: 0,
		EndOffset:   s.CurrentVideoLength,
		Mode:        aiservice.ModeTagFull,
	})
	mode := string(session.ModeFull)
	if err != nil {
		windowsTotal.WithLabelValues(mode, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "full analysis failed")
		p.logger.Error(ctx, "full analysis failed", zap.Error(err))
		return "", err
	}
	windowsTotal.WithLabelValues(mode, "ok").Inc()
	windowDuration.WithLabelValues(mode).Observe(p.now().Sub(began).Seconds())
	p.logger.Info(ctx, "full video analyzed",
		zap.Float64("length", s.CurrentVideoLength),
		zap.Int("result_chars", len(text)))
	return text, nil
}
