package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/push"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/vidsight/internal/pipeline"

// ContextLimit is how many trailing characters of a window's result are
// handed to the next window.
const ContextLimit = 500

// SummarizeForContext returns result unchanged when it fits ContextLimit,
// otherwise "..." followed by its last ContextLimit characters.
func SummarizeForContext(result string) string {
	r := []rune(result)
	if len(r) <= ContextLimit {
		return result
	}
	return "..." + string(r[len(r)-ContextLimit:])
}

// WindowProcessor analyzes one window of a session's master video.
type WindowProcessor struct {
	media          aiservice.MediaProcessor
	analyzer       aiservice.Analyzer
	storage        storage.Resolver
	store          store.Store
	publisher      push.Publisher
	tempPath       string
	analyzeTimeout time.Duration
	logger         *logging.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

// WindowProcessorConfig holds the collaborators of a WindowProcessor.
type WindowProcessorConfig struct {
	Media          aiservice.MediaProcessor
	Analyzer       aiservice.Analyzer
	Storage        storage.Resolver
	Store          store.Store
	Publisher      push.Publisher
	TempPath       string
	AnalyzeTimeout time.Duration
	Logger         *logging.Logger
}

// NewWindowProcessor validates cfg and creates a processor.
func NewWindowProcessor(cfg WindowProcessorConfig) (*WindowProcessor, error) {
	switch {
	case cfg.Media == nil:
		return nil, fmt.Errorf("media processor is required")
	case cfg.Analyzer == nil:
		return nil, fmt.Errorf("analyzer is required")
	case cfg.Storage == nil:
		return nil, fmt.Errorf("storage resolver is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = push.Nop{}
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &WindowProcessor{
		media:          cfg.Media,
		analyzer:       cfg.Analyzer,
		storage:        cfg.Storage,
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		tempPath:       cfg.TempPath,
		analyzeTimeout: cfg.AnalyzeTimeout,
		logger:         cfg.Logger,
		tracer:         otel.Tracer(instrumentationName),
		now:            time.Now,
	}, nil
}

// WindowPath is the scratch file of one extracted window.
func (p *WindowProcessor) WindowPath(sessionID string, index int) string {
	return filepath.Join(cleanup.SessionDir(p.tempPath, sessionID), fmt.Sprintf("window_%d.webm", index))
}

// ProcessWindow extracts [start, end) from the master video, uploads it,
// streams its analysis to the push sink and persists the result. Any
// failure before the record is stored is returned. The scratch file and,
// unless the session keeps its video, the uploaded object are removed
// afterwards whether or not the window succeeded.
func (p *WindowProcessor) ProcessWindow(ctx context.Context, s *session.Session, globalIndex int, start, end float64, previousContext string) (string, error) {
	ctx = logging.WithWindowIndex(ctx, globalIndex)
	ctx, span := p.tracer.Start(ctx, "pipeline.ProcessWindow", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.Int("window.index", globalIndex),
		attribute.Float64("window.start", start),
		attribute.Float64("window.end", end),
	))
	defer span.End()
	began := p.now()

	local := p.WindowPath(s.ID, globalIndex)
	if _, err := p.media.ExtractSegment(ctx, s.MasterVideoPath, local, start, end); err != nil {
		_ = cleanup.DeleteLocal(local)
		return "", p.windowFailed(ctx, span, stageErr(ErrMediaOps, "extract", s.ID, globalIndex, err))
	}

	key := storage.WindowKey(s.ID, globalIndex, start, end)
	text, err := p.analyzeObject(ctx, s, local, key, aiservice.AnalyzeRequest{
		SessionID:   s.ID,
		WindowIndex: globalIndex,
		Model:       s.AIModel,
		Context:     previousContext,
		StartOffset: start,
		EndOffset:   end,
		Mode:        aiservice.ModeTagSlidingWindow,
	})
	if err != nil {
		return "", p.windowFailed(ctx, span, err)
	}

	windowsTotal.WithLabelValues(string(session.ModeSlidingWindow), "ok").Inc()
	windowDuration.WithLabelValues(string(session.ModeSlidingWindow)).Observe(p.now().Sub(began).Seconds())
	p.logger.Info(ctx, "window analyzed",
		zap.Float64("start", start),
		zap.Float64("end", end),
		zap.Int("result_chars", len(text)),
	)
	return text, nil
}

func (p *WindowProcessor) windowFailed(ctx context.Context, span trace.Span, err error) error {
	windowsTotal.WithLabelValues(string(session.ModeSlidingWindow), "error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "window failed")
	p.logger.Error(ctx, "window failed", zap.Error(err))
	return err
}

// analyzeObject uploads local under key, analyzes it and stores the record.
// local and the remote object are cleaned up before returning.
func (p *WindowProcessor) analyzeObject(ctx context.Context, s *session.Session, local, key string, req aiservice.AnalyzeRequest) (text string, err error) {
	idx := req.WindowIndex
	uploaded := false
	var gw storage.Gateway
	defer func() {
		p.cleanupWindow(ctx, s, local, gw, key, uploaded)
	}()

	gw, err = p.storage.Get(ctx, s.StorageType)
	if err != nil {
		return "", stageErr(ErrStorage, "resolve storage", s.ID, idx, err)
	}
	if _, err = gw.Upload(ctx, local, key); err != nil {
		return "", stageErr(ErrStorage, "upload", s.ID, idx, err)
	}
	uploaded = true

	url, err := gw.PublicURL(ctx, key)
	if err != nil {
		return "", stageErr(ErrStorage, "presign", s.ID, idx, err)
	}

	memory, err := p.store.GetUserMemory(ctx, s.UserID)
	if err != nil {
		return "", stageErr(ErrPersistence, "load memory", s.ID, idx, err)
	}
	req.VideoURL = url
	req.UserMemory = memory

	text, err = p.analyze(ctx, req)
	if err != nil {
		return "", stageErr(ErrAI, "analyze", s.ID, idx, err)
	}

	rec := &session.AnalysisRecord{
		ID:          uuid.New().String(),
		SessionID:   s.ID,
		WindowIndex: idx,
		Content:     text,
		StartOffset: req.StartOffset,
		EndOffset:   req.EndOffset,
		VideoPath:   key,
		CreatedAt:   p.now(),
	}
	if err := p.store.AppendAnalysisRecord(ctx, rec); err != nil {
		return "", stageErr(ErrPersistence, "store record", s.ID, idx, err)
	}
	return text, nil
}

// analyze runs the AI call under its own timeout, forwarding each delta to
// the push sink as it arrives.
func (p *WindowProcessor) analyze(ctx context.Context, req aiservice.AnalyzeRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.analyzeTimeout)
	defer cancel()

	stream, err := p.analyzer.Analyze(ctx, req)
	if err != nil {
		return "", err
	}
	return stream.Drain(func(d aiservice.Delta) {
		p.publisher.PublishDelta(ctx, req.SessionID, req.WindowIndex, d)
	})
}

func (p *WindowProcessor) cleanupWindow(ctx context.Context, s *session.Session, local string, gw storage.Gateway, key string, uploaded bool) {
	if local != s.MasterVideoPath {
		if err := cleanup.DeleteLocal(local); err != nil {
			p.logger.Warn(ctx, "scratch cleanup failed",
				zap.Error(stageErr(ErrCleanup, "delete scratch", s.ID, -1, err)))
		}
	}
	if !uploaded || s.KeepVideo {
		return
	}
	if err := gw.Delete(ctx, key); err != nil {
		p.logger.Warn(ctx, "remote cleanup failed",
			zap.String("key", key),
			zap.Error(stageErr(ErrCleanup, "delete object", s.ID, -1, err)))
	}
}
