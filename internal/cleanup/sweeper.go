package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

// SweeperConfig configures the periodic scratch sweep.
type SweeperConfig struct {
	// Root is the scratch directory. Required.
	Root string

	// Interval between sweeps. Default: 1 hour.
	Interval time.Duration

	// Retention is the age after which a scratch file is removed.
	// Default: 2 hours.
	Retention time.Duration
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	FilesRemoved int
	DirsRemoved  int
	Errors       int
}

// Sweeper removes scratch files left behind by crashed or abandoned work.
type Sweeper struct {
	config SweeperConfig
	logger *logging.Logger

	mu      sync.Mutex
	last    SweepResult
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper. It does nothing until Start.
func NewSweeper(cfg SweeperConfig, logger *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 2 * time.Hour
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{config: cfg, logger: logger}
}

// Start runs sweeps in the background until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info(ctx, "starting scratch sweeper",
		zap.String("root", s.config.Root),
		zap.Duration("interval", s.config.Interval),
		zap.Duration("retention", s.config.Retention))

	go s.run(ctx)
}

// Stop halts the sweeper and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// LastResult returns the result of the most recent sweep.
func (s *Sweeper) LastResult() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			res := s.SweepOnce(now)
			if res.FilesRemoved > 0 || res.Errors > 0 {
				s.logger.Info(ctx, "scratch sweep finished",
					zap.Int("files_removed", res.FilesRemoved),
					zap.Int("dirs_removed", res.DirsRemoved),
					zap.Int("errors", res.Errors))
			}
		}
	}
}

// SweepOnce deletes regular files under Root whose modification time is
// older than now minus Retention, then removes empty directories that are
// themselves older than the cutoff. Root itself is kept.
func (s *Sweeper) SweepOnce(now time.Time) SweepResult {
	cutoff := now.Add(-s.config.Retention)
	var res SweepResult
	var dirs []string

	err := filepath.WalkDir(s.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			res.Errors++
			return nil
		}
		if d.IsDir() {
			if path != s.config.Root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := DeleteLocal(path); err != nil {
			res.Errors++
			s.logger.Warn(context.Background(), "sweep failed to remove file", zap.String("path", path), zap.Error(err))
			return nil
		}
		res.FilesRemoved++
		return nil
	})
	if err != nil {
		res.Errors++
	}

	// Deepest first so parents empty out before they are checked.
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || info.ModTime().After(cutoff) || isNotEmpty(dir) {
			continue
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Errors++
			continue
		}
		res.DirsRemoved++
	}

	sweptFiles.Add(float64(res.FilesRemoved))
	sweepErrors.Add(float64(res.Errors))

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res
}
