package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	UserID       string
	AIModel      string
	AnalysisMode string
	KeepVideo    bool
	// StorageType selects the backend. Empty means the configured default.
	StorageType string
}

// Submitter accepts chunk jobs. Dispatcher implements it.
type Submitter interface {
	Submit(job ChunkJob) error
}

// sessionBlocker is implemented by submitters that can hold off new jobs
// of a session while it is deleted. Block reports false when the session
// still has chunk work in flight.
type sessionBlocker interface {
	Block(sessionID string) bool
	Unblock(sessionID string)
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Params         WindowParams
	Store          store.Store
	Submitter      Submitter
	Reclaimer      *cleanup.Reclaimer
	TempPath       string
	DefaultBackend string
	DefaultModel   string
	Logger         *logging.Logger
}

// Service is the entry point used by the HTTP layer.
type Service struct {
	params         WindowParams
	store          store.Store
	submitter      Submitter
	reclaimer      *cleanup.Reclaimer
	tempPath       string
	defaultBackend string
	defaultModel   string
	logger         *logging.Logger
	now            func() time.Time
}

// NewService creates a service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if cfg.Reclaimer == nil {
		return nil, errors.New("reclaimer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Service{
		params:         cfg.Params,
		store:          cfg.Store,
		submitter:      cfg.Submitter,
		reclaimer:      cfg.Reclaimer,
		tempPath:       cfg.TempPath,
		defaultBackend: cfg.DefaultBackend,
		defaultModel:   cfg.DefaultModel,
		logger:         cfg.Logger,
		now:            time.Now,
	}, nil
}

// CreateSession validates req and stores a new RECORDING session.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, stageErr(ErrValidation, "create session", "", -1, errors.New("user id is required"))
	}
	mode, ok := session.ParseAnalysisMode(req.AnalysisMode)
	if !ok {
		return nil, stageErr(ErrValidation, "create session", "", -1,
			fmt.Errorf("unknown analysis mode %q", req.AnalysisMode))
	}
	backend := req.StorageType
	if backend == "" {
		backend = s.defaultBackend
	}
	if err := storage.ValidateTag(backend); err != nil {
		return nil, stageErr(ErrValidation, "create session", "", -1, err)
	}
	model := req.AIModel
	if model == "" {
		model = s.defaultModel
	}

	sess := session.New(session.NewParams{
		UserID:       req.UserID,
		AIModel:      model,
		AnalysisMode: mode,
		KeepVideo:    req.KeepVideo,
		StorageType:  backend,
	}, s.params.Step, s.now())
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, stageErr(ErrPersistence, "create session", sess.ID, -1, err)
	}
	s.logger.Info(logging.WithSessionID(ctx, sess.ID), "session created",
		zap.String("mode", string(mode)),
		zap.String("backend", backend),
		zap.Bool("keep_video", req.KeepVideo))
	return sess, nil
}

// GetSession returns the session with id.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, stageErr(ErrPersistence, "get session", id, -1, err)
	}
	return sess, nil
}

// ListSessions returns the sessions of userID.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	list, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, stageErr(ErrPersistence, "list sessions", "", -1, err)
	}
	return list, nil
}

// Records returns the analysis records of a session in window order.
func (s *Service) Records(ctx context.Context, id string) ([]*session.AnalysisRecord, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	recs, err := s.store.ListAnalysisRecords(ctx, id)
	if err != nil {
		return nil, stageErr(ErrPersistence, "list records", id, -1, err)
	}
	return recs, nil
}

// UpdateTitle replaces the title of a session. Blank titles are refused;
// long ones are cut to the same length generated titles are.
func (s *Service) UpdateTitle(ctx context.Context, id, title string) (*session.Session, error) {
	if strings.TrimSpace(title) == "" {
		return nil, stageErr(ErrValidation, "update title", id, -1, errors.New("title is required"))
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetSessionTitle(ctx, id, TruncateTitle(title)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, stageErr(ErrPersistence, "update title", id, -1, err)
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session with its chunks and records, its
// scratch files and, for sessions that kept their video, the stored
// objects. A session with chunk work still in flight is refused with
// ErrSessionBusy.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if b, ok := s.submitter.(sessionBlocker); ok {
		if !b.Block(id) {
			return fmt.Errorf("%w: %s", ErrSessionBusy, id)
		}
		defer b.Unblock(id)
	}
	ctx = logging.WithSessionID(ctx, id)

	var keys []string
	if sess.KeepVideo {
		recs, err := s.store.ListAnalysisRecords(ctx, id)
		if err != nil {
			return stageErr(ErrPersistence, "delete session", id, -1, err)
		}
		keys = keptObjects(sess, recs)
	}
	// Files go first so a failed row delete can be retried; object
	// deletes are idempotent.
	if err := s.reclaimer.DiscardSession(ctx, sess, keys); err != nil {
		s.logger.Warn(ctx, "deleting session with leftover resources", zap.Error(err))
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return stageErr(ErrPersistence, "delete session", id, -1, err)
	}
	s.logger.Info(ctx, "session deleted", zap.Int("objects", len(keys)))
	return nil
}

// keptObjects lists the remote objects a keep-video session may own.
func keptObjects(sess *session.Session, recs []*session.AnalysisRecord) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, r := range recs {
		add(r.VideoPath)
	}
	add(storage.MasterKey(sess.ID))
	if sess.AnalysisMode == session.ModeFull {
		add(storage.FullVideoKey(sess.ID))
	}
	return keys
}

// ChunkCounts returns how many chunks a session received and how many of
// them have been folded into its analysis.
func (s *Service) ChunkCounts(ctx context.Context, id string) (total, analyzed int, err error) {
	chunks, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return 0, 0, stageErr(ErrPersistence, "list chunks", id, -1, err)
	}
	for _, c := range chunks {
		if c.AnalyzedAt != nil {
			analyzed++
		}
	}
	return len(chunks), analyzed, nil
}

// ClientConfig is the recording guidance handed to clients.
type ClientConfig struct {
	WindowSize    float64
	WindowStep    float64
	MinWindowSize float64
	// RecommendedChunkDuration is W + 2S: a chunk of that length always
	// completes at least one window.
	RecommendedChunkDuration float64
}

// ClientConfig returns the window parameters clients should record by.
func (s *Service) ClientConfig() ClientConfig {
	return ClientConfig{
		WindowSize:               s.params.Size,
		WindowStep:               s.params.Step,
		MinWindowSize:            s.params.MinSize,
		RecommendedChunkDuration: s.params.Size + 2*s.params.Step,
	}
}

// chunkPath returns a fresh scratch path for one upload of a chunk. Every
// upload gets its own file, so a retried index never touches the file of
// a job already accepted for that index.
func (s *Service) chunkPath(sessionID string, chunkIndex int) string {
	name := fmt.Sprintf("chunk_%d_%s.webm", chunkIndex, uuid.NewString())
	return filepath.Join(cleanup.SessionDir(s.tempPath, sessionID), name)
}

// PrepareChunk checks that the session can take a chunk and creates its
// scratch directory. It returns a new path the chunk must be written to;
// the caller owns that file until SubmitChunk accepts it.
func (s *Service) PrepareChunk(ctx context.Context, sessionID string, chunkIndex int) (string, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !sess.AcceptsChunks() {
		return "", stageErr(ErrValidation, "accept chunk", sessionID, -1,
			fmt.Errorf("%w: %s", session.ErrTerminal, sess.Status))
	}
	if chunkIndex < 0 {
		return "", stageErr(ErrValidation, "accept chunk", sessionID, -1, errors.New("chunk index is negative"))
	}
	if err := os.MkdirAll(cleanup.SessionDir(s.tempPath, sessionID), 0o750); err != nil {
		return "", stageErr(ErrMediaOps, "accept chunk", sessionID, -1, err)
	}
	return s.chunkPath(sessionID, chunkIndex), nil
}

// SubmitChunk hands a written chunk to the worker pool. On rejection the
// chunk file, which PrepareChunk created for this upload only, is deleted.
func (s *Service) SubmitChunk(ctx context.Context, job ChunkJob) error {
	if err := s.submitter.Submit(job); err != nil {
		_ = cleanup.DeleteLocal(job.LocalPath)
		return err
	}
	s.logger.Debug(logging.WithChunkIndex(logging.WithSessionID(ctx, job.SessionID), job.ChunkIndex),
		"chunk accepted", zap.Bool("last", job.IsLast))
	return nil
}
