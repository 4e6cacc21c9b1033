package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	vidhttp "github.com/fyrsmithlabs/vidsight/internal/http"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/pipeline"
	"github.com/fyrsmithlabs/vidsight/internal/session"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
	"github.com/fyrsmithlabs/vidsight/internal/storage/storagetest"
	"github.com/fyrsmithlabs/vidsight/internal/store"
)

type discardSubmitter struct{}

func (discardSubmitter) Submit(pipeline.ChunkJob) error { return nil }

// startVidsight serves the real API over an in-memory store.
func startVidsight(t *testing.T) (*httptest.Server, *pipeline.Service) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tempPath := t.TempDir()
	mem := storagetest.NewMemory(storage.BackendMinIO)
	svc, err := pipeline.NewService(pipeline.ServiceConfig{
		Params:         pipeline.WindowParams{Size: 15, Step: 10, MinSize: 5},
		Store:          st,
		Submitter:      discardSubmitter{},
		Reclaimer:      cleanup.NewReclaimer(storagetest.Resolver{storage.BackendMinIO: mem}, tempPath, nil),
		TempPath:       tempPath,
		DefaultBackend: storage.BackendMinIO,
		DefaultModel:   "qwen-vl-max",
		Logger:         logging.NewNop(),
	})
	require.NoError(t, err)

	server, err := vidhttp.NewServer(svc, nil, logging.NewNop(), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestCreate_ModesAgainstServer(t *testing.T) {
	srv, svc := startVidsight(t)

	tests := []struct {
		flag string
		want session.AnalysisMode
	}{
		{"full", session.ModeFull},
		{"FULL", session.ModeFull},
		{"sliding_window", session.ModeSlidingWindow},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			out, err := execute(t, srv, "create", "--mode", tt.flag, "--storage", "minio")
			require.NoError(t, err)

			s, err := svc.GetSession(context.Background(), strings.TrimSpace(out))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.AnalysisMode)
			assert.Equal(t, "u1", s.UserID)
		})
	}
}

func TestCreate_UnknownModeFailsLocally(t *testing.T) {
	srv, _ := startVidsight(t)

	_, err := execute(t, srv, "create", "--mode", "realtime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown analysis mode "realtime"`)
}

func TestAnalysisMode(t *testing.T) {
	got, err := analysisMode("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = analysisMode(" Sliding-Window ")
	require.NoError(t, err)
	assert.Equal(t, "SLIDING_WINDOW", got)
}
