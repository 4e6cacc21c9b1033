package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

const (
	// DefaultTitle is used when title generation fails.
	DefaultTitle  = "Video analysis"
	maxTitleRunes = 50
)

// Finalizer generates a title and updates the owner's memory after a
// session completes. Nothing it does can change the session's status.
type Finalizer struct {
	store      store.Store
	summarizer aiservice.Summarizer
	timeout    time.Duration
	logger     *logging.Logger

	wg sync.WaitGroup
}

// NewFinalizer creates a finalizer. summarizer may be nil, in which case
// Start is a no-op.
func NewFinalizer(st store.Store, summarizer aiservice.Summarizer, timeout time.Duration, logger *logging.Logger) *Finalizer {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Finalizer{store: st, summarizer: summarizer, timeout: timeout, logger: logger}
}

// Start finalizes sessionID in the background.
func (f *Finalizer) Start(ctx context.Context, sessionID string) {
	if f == nil || f.summarizer == nil {
		return
	}
	ctx = logging.WithSessionID(context.WithoutCancel(ctx), sessionID)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.Finalize(ctx, sessionID); err != nil {
			f.logger.Warn(ctx, "session finalization failed", zap.Error(err))
		}
	}()
}

// Wait blocks until every started finalization returns.
func (f *Finalizer) Wait() {
	if f != nil {
		f.wg.Wait()
	}
}

// Finalize titles an untitled session and merges newly extracted memory into its
// owner's memory. Sessions without analysis records are skipped. Title
// generation falls back to DefaultTitle; memory errors are returned for
// logging.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string) error {
	records, err := f.store.ListAnalysisRecords(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	results := make([]string, 0, len(records))
	for _, r := range records {
		if c := r.DisplayContent(); c != "" {
			results = append(results, c)
		}
	}
	if len(results) == 0 {
		f.logger.Debug(ctx, "no analysis results, skipping finalization")
		return nil
	}

	s, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	memory, err := f.store.GetUserMemory(ctx, s.UserID)
	if err != nil {
		return fmt.Errorf("load memory: %w", err)
	}
	req := aiservice.SummaryRequest{
		SessionID:  sessionID,
		Results:    results,
		UserMemory: memory,
		Model:      s.AIModel,
	}

	// A title set by the owner is never replaced.
	if s.Title == "" {
		s.Title = f.title(ctx, req)
		if err := f.store.SetSessionTitle(ctx, sessionID, s.Title); err != nil {
			return fmt.Errorf("save title: %w", err)
		}
	}

	mctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	extracted, err := f.summarizer.ExtractUserMemory(mctx, req)
	if err != nil {
		return fmt.Errorf("extract memory: %w", err)
	}
	merged, err := MergeMemory(memory, extracted)
	if err != nil {
		return err
	}
	if err := f.store.PutUserMemory(ctx, s.UserID, merged); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	f.logger.Info(ctx, "session finalized", zap.String("title", s.Title))
	return nil
}

func (f *Finalizer) title(ctx context.Context, req aiservice.SummaryRequest) string {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	title, err := f.summarizer.GenerateTitle(ctx, req)
	if err != nil {
		f.logger.Warn(ctx, "title generation failed", zap.Error(err))
		return DefaultTitle
	}
	return TruncateTitle(title)
}

// TruncateTitle trims title to at most 50 characters, or returns
// DefaultTitle when it is blank.
func TruncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	r := []rune(title)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes])
	}
	return title
}
