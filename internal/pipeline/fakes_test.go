package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/push/pushtest"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
	"github.com/fyrsmithlabs/vidsight/internal/storage/storagetest"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

// fakeMedia treats a video file as lines of "dur:<seconds>". Concatenation
// appends the lines and the duration is their sum, so the probed length
// always reflects what was actually written.
type fakeMedia struct {
	mu         sync.Mutex
	concatErr  error
	probeErr   error
	extractErr error
	extracted  [][2]float64
}

func writeChunk(t *testing.T, path string, seconds float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("dur:%g\n", seconds)), 0o600))
}

func (m *fakeMedia) GetDuration(_ context.Context, path string) (float64, error) {
	if m.probeErr != nil {
		return 0, m.probeErr
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var total float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		v, ok := strings.CutPrefix(sc.Text(), "dur:")
		if !ok {
			continue
		}
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, sc.Err()
}

func (m *fakeMedia) Concat(_ context.Context, paths []string, out string) (string, error) {
	if m.concatErr != nil {
		// Leave a partial file behind like a crashed ffmpeg would.
		_ = os.WriteFile(out, []byte("partial"), 0o600)
		return "", m.concatErr
	}
	var b []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		b = append(b, data...)
	}
	return out, os.WriteFile(out, b, 0o600)
}

func (m *fakeMedia) ExtractSegment(_ context.Context, in, out string, start, end float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extractErr != nil {
		return "", m.extractErr
	}
	if _, err := os.Stat(in); err != nil {
		return "", err
	}
	m.extracted = append(m.extracted, [2]float64{start, end})
	return out, os.WriteFile(out, []byte(fmt.Sprintf("dur:%g\n", end-start)), 0o600)
}

func (m *fakeMedia) ExtractTail(ctx context.Context, in, out string, duration float64) (string, error) {
	total, err := m.GetDuration(ctx, in)
	if err != nil {
		return "", err
	}
	return m.ExtractSegment(ctx, in, out, total-duration, total)
}

// fakeAnalyzer answers every request with "w<index>[start-end]" split into
// two deltas, and records the requests.
type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []aiservice.AnalyzeRequest
	failAt   int // window index that fails; -1 for none
	text     func(req aiservice.AnalyzeRequest) string
}

func newFakeAnalyzer() *fakeAnalyzer { return &fakeAnalyzer{failAt: -1} }

var errModelDown = errors.New("model unavailable")

func (a *fakeAnalyzer) Analyze(ctx context.Context, req aiservice.AnalyzeRequest) (*aiservice.Stream, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if req.WindowIndex == a.failAt {
		return aiservice.StaticStream(ctx, errModelDown, "partial "), nil
	}
	text := fmt.Sprintf("w%d[%g-%g]", req.WindowIndex, req.StartOffset, req.EndOffset)
	if a.text != nil {
		text = a.text(req)
	}
	half := len(text) / 2
	return aiservice.StaticStream(ctx, nil, text[:half], text[half:]), nil
}

func (a *fakeAnalyzer) Requests() []aiservice.AnalyzeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]aiservice.AnalyzeRequest(nil), a.requests...)
}

// harness wires a Runner over an in-memory database and storage.
type harness struct {
	t        *testing.T
	tempPath string
	params   WindowParams
	store    *store.SQLiteStore
	media    *fakeMedia
	analyzer *fakeAnalyzer
	storage  *storagetest.Memory
	push     *pushtest.Recorder
	windows  *WindowProcessor
	runner   *Runner
	reclaim  *cleanup.Reclaimer
	logger   *logging.TestLogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		t:        t,
		tempPath: t.TempDir(),
		params:   WindowParams{Size: 15, Step: 10, MinSize: 5},
		store:    st,
		media:    &fakeMedia{},
		analyzer: newFakeAnalyzer(),
		storage:  storagetest.NewMemory(storage.BackendMinIO),
		push:     &pushtest.Recorder{},
		logger:   logging.NewTestLogger(),
	}
	resolver := storagetest.Resolver{storage.BackendMinIO: h.storage}
	h.reclaim = cleanup.NewReclaimer(resolver, h.tempPath, h.logger.Logger)

	h.windows, err = NewWindowProcessor(WindowProcessorConfig{
		Media:     h.media,
		Analyzer:  h.analyzer,
		Storage:   resolver,
		Store:     st,
		Publisher: h.push,
		TempPath:  h.tempPath,
		Logger:    h.logger.Logger,
	})
	require.NoError(t, err)

	h.runner, err = NewRunner(RunnerConfig{
		Params:      h.params,
		Store:       st,
		Accumulator: NewAccumulator(h.media, h.tempPath, h.params.Step, h.logger.Logger),
		Windows:     h.windows,
		Reclaimer:   h.reclaim,
		Publisher:   h.push,
		Logger:      h.logger.Logger,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) newSession(mode session.AnalysisMode, keep bool) *session.Session {
	h.t.Helper()
	s := session.New(session.NewParams{
		UserID:       "user-1",
		AIModel:      "qwen-vl-max",
		AnalysisMode: mode,
		KeepVideo:    keep,
		StorageType:  storage.BackendMinIO,
	}, h.params.Step, time.Now())
	require.NoError(h.t, h.store.CreateSession(context.Background(), s))
	return s
}

// chunk writes a chunk file of the given real duration and processes it.
// declared is deliberately wrong to show it is never trusted.
func (h *harness) chunk(s *session.Session, index int, seconds float64, last bool) error {
	h.t.Helper()
	path := filepath.Join(h.tempPath, "incoming", fmt.Sprintf("%s_%d.webm", s.ID, index))
	writeChunk(h.t, path, seconds)
	_, err := h.runner.ProcessChunk(context.Background(), ChunkJob{
		SessionID:        s.ID,
		ChunkIndex:       index,
		LocalPath:        path,
		DeclaredDuration: seconds * 3,
		IsLast:           last,
	})
	return err
}

func (h *harness) load(id string) *session.Session {
	h.t.Helper()
	s, err := h.store.GetSession(context.Background(), id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) records(id string) []*session.AnalysisRecord {
	h.t.Helper()
	recs, err := h.store.ListAnalysisRecords(context.Background(), id)
	require.NoError(h.t, err)
	return recs
}
