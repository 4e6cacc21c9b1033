// Package cleanup reclaims local scratch files and, at session end, the
// session's master video.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/sanitize"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
)

var (
	sweptFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "cleanup",
		Name:      "swept_files_total",
		Help:      "Scratch files removed by the periodic sweep.",
	})
	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "cleanup",
		Name:      "sweep_errors_total",
		Help:      "Scratch files or directories the sweep failed to remove.",
	})
	reclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidsight",
		Subsystem: "cleanup",
		Name:      "sessions_reclaimed_total",
		Help:      "Session-end reclamations by result.",
	}, []string{"result"})
)

// DeleteLocal removes path. A missing file is not an error.
func DeleteLocal(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// SessionDir is the scratch directory of a session.
func SessionDir(tempPath, sessionID string) string {
	return filepath.Join(tempPath, sessionID)
}

// Reclaimer releases a session's local resources when it ends.
type Reclaimer struct {
	storage  storage.Resolver
	tempPath string
	logger   *logging.Logger
}

// NewReclaimer creates a reclaimer for sessions under tempPath.
func NewReclaimer(resolver storage.Resolver, tempPath string, logger *logging.Logger) *Reclaimer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reclaimer{storage: resolver, tempPath: tempPath, logger: logger}
}

// ReclaimSession uploads the master video when the session keeps its
// video and no kept object already holds it, then deletes the local master, clears MasterVideoPath and
// removes the session directory if it is empty. The local master is
// deleted even when the upload fails. The returned error is for logging
// only; the caller must not fail the session on it.
func (r *Reclaimer) ReclaimSession(ctx context.Context, s *session.Session) error {
	var errs []error

	master := s.MasterVideoPath
	if master != "" && s.KeepVideo && !fullVideoKept(s) {
		if err := r.uploadMaster(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if master != "" {
		// MasterVideoPath is read back from the store; never delete
		// outside the scratch root.
		if _, err := sanitize.ValidatePath(master, r.tempPath); err != nil {
			errs = append(errs, fmt.Errorf("refusing to delete master: %w", err))
		} else if err := DeleteLocal(master); err != nil {
			errs = append(errs, err)
		} else {
			s.MasterVideoPath = ""
		}
	}

	dir := SessionDir(r.tempPath, s.ID)
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(dir) {
		errs = append(errs, fmt.Errorf("remove session dir: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		reclaimed.WithLabelValues("error").Inc()
		r.logger.Warn(ctx, "session cleanup incomplete", zap.Error(err))
		return err
	}
	reclaimed.WithLabelValues("ok").Inc()
	r.logger.Debug(ctx, "session resources reclaimed", zap.Bool("keep_video", s.KeepVideo))
	return nil
}

// fullVideoKept reports whether a completed FULL session already stored
// the whole recording under its full video key.
func fullVideoKept(s *session.Session) bool {
	return s.AnalysisMode == session.ModeFull && s.Status == session.StatusCompleted
}

// DiscardSession removes what a deleted session leaves behind: its
// scratch directory with any master or chunk files in it, and the given
// remote objects. Every step is attempted; failures are joined.
func (r *Reclaimer) DiscardSession(ctx context.Context, s *session.Session, objectKeys []string) error {
	var errs []error

	dir := SessionDir(r.tempPath, s.ID)
	if _, err := sanitize.ValidatePath(dir, r.tempPath); err != nil {
		errs = append(errs, fmt.Errorf("refusing to remove session dir: %w", err))
	} else if err := os.RemoveAll(dir); err != nil {
		errs = append(errs, fmt.Errorf("remove session dir: %w", err))
	}

	if len(objectKeys) > 0 {
		gw, err := r.storage.Get(ctx, s.StorageType)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve storage: %w", err))
		} else {
			for _, key := range objectKeys {
				if err := gw.Delete(ctx, key); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		reclaimed.WithLabelValues("discard_error").Inc()
		r.logger.Warn(ctx, "deleted session left resources behind", zap.Error(err))
		return err
	}
	reclaimed.WithLabelValues("discarded").Inc()
	r.logger.Debug(ctx, "deleted session resources removed", zap.Int("objects", len(objectKeys)))
	return nil
}

func (r *Reclaimer) uploadMaster(ctx context.Context, s *session.Session) error {
	if _, err := os.Stat(s.MasterVideoPath); err != nil {
		return fmt.Errorf("stat master: %w", err)
	}
	gw, err := r.storage.Get(ctx, s.StorageType)
	if err != nil {
		return fmt.Errorf("resolve storage: %w", err)
	}
	key := storage.MasterKey(s.ID)
	if _, err := gw.Upload(ctx, s.MasterVideoPath, key); err != nil {
		return fmt.Errorf("upload master: %w", err)
	}
	r.logger.Info(ctx, "master video kept", zap.String("key", key), zap.String("backend", gw.Name()))
	return nil
}

func isNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
