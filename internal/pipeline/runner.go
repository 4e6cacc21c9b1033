package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/push"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

// ChunkJob is one uploaded chunk waiting to be folded and analyzed.
type ChunkJob struct {
	SessionID        string
	ChunkIndex       int
	LocalPath        string
	DeclaredDuration float64
	IsLast           bool
}

// RunnerConfig holds the collaborators of a Runner.
type RunnerConfig struct {
	Params      WindowParams
	Store       store.Store
	Accumulator *Accumulator
	Windows     *WindowProcessor
	Reclaimer   *cleanup.Reclaimer
	Finalizer   *Finalizer
	Publisher   push.Publisher
	Logger      *logging.Logger
}

// Runner processes chunk jobs. It must only be called for one session at
// a time; the Dispatcher guarantees that.
type Runner struct {
	params    WindowParams
	store     store.Store
	acc       *Accumulator
	windows   *WindowProcessor
	reclaimer *cleanup.Reclaimer
	finalizer *Finalizer
	publisher push.Publisher
	logger    *logging.Logger
	now       func() time.Time

	tracer       trace.Tracer
	meter        metric.Meter
	chunkCounter metric.Int64Counter
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Accumulator == nil:
		return nil, errors.New("accumulator is required")
	case cfg.Windows == nil:
		return nil, errors.New("window processor is required")
	case cfg.Reclaimer == nil:
		return nil, errors.New("reclaimer is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = push.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	r := &Runner{
		params:    cfg.Params,
		store:     cfg.Store,
		acc:       cfg.Accumulator,
		windows:   cfg.Windows,
		reclaimer: cfg.Reclaimer,
		finalizer: cfg.Finalizer,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r, nil
}

func (r *Runner) initMetrics() {
	var err error
	r.chunkCounter, err = r.meter.Int64Counter(
		"vidsight.pipeline.chunks_total",
		metric.WithDescription("Total number of chunks processed"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		r.logger.Warn(context.Background(), "failed to create chunk counter", zap.Error(err))
	}
}

// ProcessChunk folds the chunk into the master video, analyzes every
// window that became due and completes the session on its last chunk. A
// media, storage, AI or persistence failure marks the session FAILED. The
// chunk file is always deleted. The returned status is the session's status
// after the job, or "" when the session could not be loaded.
func (r *Runner) ProcessChunk(ctx context.Context, job ChunkJob) (session.Status, error) {
	ctx = logging.WithChunkIndex(logging.WithSessionID(ctx, job.SessionID), job.ChunkIndex)
	ctx, span := r.tracer.Start(ctx, "pipeline.ProcessChunk", trace.WithAttributes(
		attribute.String("session.id", job.SessionID),
		attribute.Int("chunk.index", job.ChunkIndex),
		attribute.Bool("chunk.last", job.IsLast),
	))
	defer span.End()

	s, chunk, err := r.processChunk(ctx, job)

	if derr := cleanup.DeleteLocal(job.LocalPath); derr != nil {
		r.logger.Warn(ctx, "chunk cleanup failed",
			zap.Error(stageErr(ErrCleanup, "delete chunk", job.SessionID, -1, derr)))
	}
	if chunk != nil {
		r.retireChunk(ctx, chunk, err == nil)
	}
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk failed")
	}
	if r.chunkCounter != nil {
		r.chunkCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if s == nil {
		return "", err
	}
	span.SetAttributes(attribute.String("session.status", string(s.Status)))
	return s.Status, err
}

func (r *Runner) processChunk(ctx context.Context, job ChunkJob) (*session.Session, *session.VideoChunk, error) {
	s, err := r.store.GetSession(ctx, job.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, job.SessionID)
	}
	if err != nil {
		return nil, nil, stageErr(ErrPersistence, "load session", job.SessionID, -1, err)
	}
	if !s.AcceptsChunks() {
		return s, nil, stageErr(ErrValidation, "accept chunk", s.ID, -1, fmt.Errorf("%w: %s", session.ErrTerminal, s.Status))
	}

	c := &session.VideoChunk{
		ID:               uuid.New().String(),
		SessionID:        s.ID,
		ChunkIndex:       job.ChunkIndex,
		DeclaredDuration: job.DeclaredDuration,
		Status:           session.ChunkUploaded,
		UploadedAt:       r.now(),
	}
	if err := r.store.CreateChunk(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicateChunk) {
			return s, nil, stageErr(ErrValidation, "record chunk", s.ID, -1, err)
		}
		return s, nil, r.fail(ctx, s, stageErr(ErrPersistence, "record chunk", s.ID, -1, err))
	}

	if err := r.startAnalyzing(ctx, s); err != nil {
		return s, c, r.fail(ctx, s, err)
	}
	if _, err := r.acc.Append(ctx, s, job.LocalPath, job.DeclaredDuration); err != nil {
		return s, c, r.fail(ctx, s, err)
	}
	if err := r.save(ctx, s); err != nil {
		return s, c, r.fail(ctx, s, err)
	}

	if s.AnalysisMode == session.ModeFull {
		if job.IsLast {
			_, err = r.windows.ProcessFull(ctx, s)
		}
	} else {
		err = r.runWindows(ctx, s, job.IsLast)
	}
	if err != nil {
		return s, c, r.fail(ctx, s, err)
	}

	if job.IsLast {
		return s, c, r.complete(ctx, s)
	}
	return s, c, nil
}

// NextChunkIndex returns the index the next chunk of sessionID must carry:
// one past the highest chunk recorded so far.
func (r *Runner) NextChunkIndex(ctx context.Context, sessionID string) (int, error) {
	chunks, err := r.store.ListChunks(ctx, sessionID)
	if err != nil {
		return 0, stageErr(ErrPersistence, "list chunks", sessionID, -1, err)
	}
	next := 0
	for _, c := range chunks {
		if c.ChunkIndex >= next {
			next = c.ChunkIndex + 1
		}
	}
	return next, nil
}

// runWindows analyzes every due window, persisting LastWindowStartTime
// after each one so a failure never re-analyzes a stored window.
func (r *Runner) runWindows(ctx context.Context, s *session.Session, isLast bool) error {
	next, err := r.store.CountAnalysisRecords(ctx, s.ID)
	if err != nil {
		return stageErr(ErrPersistence, "count records", s.ID, -1, err)
	}
	prev := ""
	if next > 0 {
		last, err := r.store.LastAnalysisRecord(ctx, s.ID)
		if err != nil {
			return stageErr(ErrPersistence, "load context", s.ID, -1, err)
		}
		if last != nil {
			prev = SummarizeForContext(last.Content)
		}
	}

	for {
		w, ok, final := NextWindow(r.params, s.CurrentVideoLength, s.LastWindowStartTime, isLast)
		if !ok {
			return nil
		}

		text, err := r.windows.ProcessWindow(ctx, s, next, w.Start, w.End, prev)
		if err != nil {
			return err
		}
		s.LastWindowStartTime = w.Start
		if err := r.save(ctx, s); err != nil {
			return err
		}
		prev = SummarizeForContext(text)
		next++
		if final {
			return nil
		}
	}
}

// startAnalyzing moves a RECORDING session to ANALYZING and saves it, so
// the status is visible while the chunk is being folded.
func (r *Runner) startAnalyzing(ctx context.Context, s *session.Session) error {
	if s.Status != session.StatusRecording {
		return nil
	}
	if err := s.Transition(session.StatusAnalyzing, r.now()); err != nil {
		return stageErr(ErrValidation, "transition", s.ID, -1, err)
	}
	r.logger.Debug(ctx, "session analyzing")
	return r.save(ctx, s)
}

func (r *Runner) complete(ctx context.Context, s *session.Session) error {
	if err := s.Transition(session.StatusCompleted, r.now()); err != nil {
		return stageErr(ErrValidation, "transition", s.ID, -1, err)
	}
	r.finish(ctx, s)
	r.logger.Info(ctx, "session completed", zap.Float64("length", s.CurrentVideoLength))
	r.finalizer.Start(ctx, s.ID)
	return nil
}

// fail marks s FAILED, releases its resources and returns cause.
func (r *Runner) fail(ctx context.Context, s *session.Session, cause error) error {
	if s.Status.Terminal() {
		return cause
	}
	if err := s.Transition(session.StatusFailed, r.now()); err != nil {
		r.logger.Error(ctx, "cannot mark session failed", zap.Error(err))
		return cause
	}
	r.finish(ctx, s)
	r.logger.Error(ctx, "session failed", zap.Error(cause))
	return cause
}

// finish runs session-level cleanup for a session that just became
// terminal, then persists and announces it.
func (r *Runner) finish(ctx context.Context, s *session.Session) {
	// Cleanup errors are logged by the reclaimer and never change the outcome.
	_ = r.reclaimer.ReclaimSession(ctx, s)
	if err := r.save(ctx, s); err != nil {
		r.logger.Error(ctx, "failed to persist terminal session", zap.Error(err))
	}
	sessionsFinished.WithLabelValues(string(s.Status)).Inc()
	r.publisher.PublishStatus(ctx, s.ID, string(s.Status))
}

func (r *Runner) save(ctx context.Context, s *session.Session) error {
	s.UpdatedAt = r.now()
	if err := r.store.UpdateSession(ctx, s); err != nil {
		return stageErr(ErrPersistence, "save session", s.ID, -1, err)
	}
	return nil
}

func (r *Runner) retireChunk(ctx context.Context, c *session.VideoChunk, analyzed bool) {
	if analyzed {
		t := r.now()
		c.AnalyzedAt = &t
	}
	c.Status = session.ChunkDeleted
	if err := r.store.UpdateChunk(ctx, c); err != nil {
		r.logger.Warn(ctx, "failed to update chunk status", zap.Error(err))
	}
}
