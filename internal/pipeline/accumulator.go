package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/session"
)

const (
	masterFile     = "master_video.webm"
	masterTempFile = "master_temp.webm"
)

// Accumulator folds uploaded chunks into a session's master video.
type Accumulator struct {
	media    aiservice.MediaProcessor
	tempPath string
	step     float64
	logger   *logging.Logger
}

// NewAccumulator creates an accumulator writing under tempPath.
func NewAccumulator(media aiservice.MediaProcessor, tempPath string, windowStep float64, logger *logging.Logger) *Accumulator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Accumulator{media: media, tempPath: tempPath, step: windowStep, logger: logger}
}

// MasterPath is where the master video of a session lives.
func (a *Accumulator) MasterPath(sessionID string) string {
	return filepath.Join(cleanup.SessionDir(a.tempPath, sessionID), masterFile)
}

// Append folds chunkPath into the master video and returns the probed
// master length. The declared duration is only logged; the length always
// comes from probing the master. On failure the master is left as it was.
func (a *Accumulator) Append(ctx context.Context, s *session.Session, chunkPath string, declared float64) (float64, error) {
	fail := func(err error) (float64, error) {
		return 0, stageErr(ErrMediaOps, "accumulate", s.ID, -1, err)
	}

	dir := cleanup.SessionDir(a.tempPath, s.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fail(fmt.Errorf("create session dir: %w", err))
	}
	master := a.MasterPath(s.ID)

	first := s.MasterVideoPath == ""
	if first {
		if err := copyFile(chunkPath, master); err != nil {
			return fail(err)
		}
		s.MasterVideoPath = master
		s.LastWindowStartTime = -a.step
	} else {
		tmp := filepath.Join(dir, masterTempFile)
		if _, err := a.media.Concat(ctx, []string{s.MasterVideoPath, chunkPath}, tmp); err != nil {
			_ = cleanup.DeleteLocal(tmp)
			return fail(fmt.Errorf("concat: %w", err))
		}
		// rename(2) replaces the destination atomically, so the master path
		// never disappears.
		if err := os.Rename(tmp, s.MasterVideoPath); err != nil {
			_ = cleanup.DeleteLocal(tmp)
			return fail(fmt.Errorf("replace master: %w", err))
		}
	}

	length, err := a.media.GetDuration(ctx, s.MasterVideoPath)
	if err != nil {
		return fail(fmt.Errorf("probe master: %w", err))
	}
	if err := s.ApplyProbedLength(length); err != nil {
		return fail(err)
	}
	masterLength.Observe(length)

	a.logger.Debug(ctx, "chunk folded into master",
		zap.Bool("first", first),
		zap.Float64("declared_duration", declared),
		zap.Float64("length", length),
	)
	return length, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open chunk: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create master: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy chunk: %w", err)
	}
	return out.Close()
}
