package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI against srv and returns its stdout.
func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--server", srv.URL, "--user", "u1"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "health")
	require.NoError(t, err)
	assert.Equal(t, "Server Status: ok\n", out)
}

func TestSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		if r.URL.Path != "/api/v1/sessions/s1" {
			http.Error(w, `{"message":"session not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(SessionResponse{
			ID: "s1", Status: "COMPLETED", Title: "Morning walk", AnalysisMode: "SLIDING_WINDOW",
			StorageType: "minio", CurrentVideoLength: 24, TotalChunks: 3, AnalyzedChunks: 2,
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   COMPLETED")
	assert.Contains(t, out, "Title:    Morning walk")
	assert.Contains(t, out, "Length:   24.0s")
	assert.Contains(t, out, "Chunks:   3 received, 2 analyzed")

	_, err = execute(t, srv, "session", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]RecordResponse{
			{WindowIndex: 0, Content: "Opens the editor.", StartOffset: 0, EndOffset: 15},
			{WindowIndex: 1, Content: "Types a query. ", StartOffset: 70, EndOffset: 85},
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "records", "s1")
	require.NoError(t, err)
	assert.Equal(t, "#0 [0:00, 0:15)\nOpens the editor.\n\n#1 [1:10, 1:25)\nTypes a query.\n\n", out)
}

func TestCreateAndUpload(t *testing.T) {
	var created CreateSessionRequest
	var upload struct {
		index, duration, last, file string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(SessionResponse{ID: "new-id", Status: "RECORDING"})
		case "/api/v1/sessions/new-id/chunks":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			upload.index = r.FormValue("chunkIndex")
			upload.duration = r.FormValue("duration")
			upload.last = r.FormValue("isLast")
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			upload.file = string(data)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(ChunkAccepted{SessionID: "new-id", ChunkIndex: 3, Status: "accepted"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, srv, "create", "--mode", "full", "--storage", "cos", "--keep-video")
	require.NoError(t, err)
	assert.Equal(t, "new-id\n", out)
	assert.Equal(t, "FULL", created.AnalysisMode)
	assert.Equal(t, "cos", created.StorageType)
	assert.True(t, created.KeepVideo)

	chunk := filepath.Join(t.TempDir(), "c.webm")
	require.NoError(t, os.WriteFile(chunk, []byte("bytes"), 0o600))
	out, err = execute(t, srv, "upload", "new-id", "3", chunk, "--duration", "9.5", "--last")
	require.NoError(t, err)
	assert.Equal(t, "chunk 3 of new-id accepted\n", out)
	assert.Equal(t, "3", upload.index)
	assert.Equal(t, "9.5", upload.duration)
	assert.Equal(t, "true", upload.last)
	assert.Equal(t, "bytes", upload.file)
}

func TestTitleDeleteAndConfig(t *testing.T) {
	var title UpdateTitleRequest
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/sessions/s1/title":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&title))
			_ = json.NewEncoder(w).Encode(SessionResponse{ID: "s1", Title: title.Title})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/sessions/s1":
			deleted = "s1"
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/sessions/busy":
			http.Error(w, `{"message":"session has chunk work in flight"}`, http.StatusConflict)
		case r.URL.Path == "/api/v1/config":
			_ = json.NewEncoder(w).Encode(ConfigResponse{
				WindowSize: 15, WindowStep: 10, MinWindowSize: 5, RecommendedChunkDuration: 35,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, srv, "title", "s1", "Garden")
	require.NoError(t, err)
	assert.Equal(t, "Garden", title.Title)
	assert.Equal(t, "s1 renamed to \"Garden\"\n", out)

	out, err = execute(t, srv, "delete", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", deleted)
	assert.Equal(t, "s1 deleted\n", out)

	_, err = execute(t, srv, "delete", "busy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	out, err = execute(t, srv, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "15s every 10s (min 5s)")
	assert.Contains(t, out, "35s recommended")
}

func TestClock(t *testing.T) {
	assert.Equal(t, "0:00", clock(0))
	assert.Equal(t, "0:59", clock(59.9))
	assert.Equal(t, "2:05", clock(125))
}
