package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vidsight/internal/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSession(t *testing.T, s *SQLiteStore) *session.Session {
	t.Helper()
	sess := session.New(session.NewParams{
		UserID:      "user-1",
		AIModel:     "qwen",
		StorageType: "minio",
		KeepVideo:   true,
	}, 10, time.Now())
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestSession_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, session.StatusRecording, got.Status)
	assert.Equal(t, session.ModeSlidingWindow, got.AnalysisMode)
	assert.True(t, got.KeepVideo)
	assert.Equal(t, -10.0, got.LastWindowStartTime)
	assert.Empty(t, got.MasterVideoPath)
	assert.Nil(t, got.EndTime)
	assert.WithinDuration(t, sess.CreatedAt, got.CreatedAt, time.Millisecond)

	got.MasterVideoPath = "/tmp/x/master_video.webm"
	got.CurrentVideoLength = 24.5
	got.LastWindowStartTime = 0
	require.NoError(t, got.Transition(session.StatusCompleted, time.Now()))
	got.Title = "ignored by UpdateSession"
	require.NoError(t, s.UpdateSession(ctx, got))
	require.NoError(t, s.SetSessionTitle(ctx, sess.ID, "Morning walk"))

	again, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, again.Status)
	assert.Equal(t, 24.5, again.CurrentVideoLength)
	assert.Equal(t, 0.0, again.LastWindowStartTime)
	assert.Equal(t, "Morning walk", again.Title)
	require.NotNil(t, again.EndTime)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateSession(context.Background(), &session.Session{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.SetSessionTitle(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	newSession(t, s)
	newSession(t, s)

	list, err := s.ListSessions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListSessions(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s)

	for i := 0; i < 3; i++ {
		c := &session.VideoChunk{
			SessionID:        sess.ID,
			ChunkIndex:       i,
			DeclaredDuration: 10,
			Status:           session.ChunkUploaded,
			UploadedAt:       time.Now(),
		}
		require.NoError(t, s.CreateChunk(ctx, c))
		assert.NotEmpty(t, c.ID)
	}

	dup := &session.VideoChunk{SessionID: sess.ID, ChunkIndex: 1, Status: session.ChunkUploaded, UploadedAt: time.Now()}
	assert.ErrorIs(t, s.CreateChunk(ctx, dup), ErrDuplicateChunk)

	chunks, err := s.ListChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{chunks[0].ChunkIndex, chunks[1].ChunkIndex, chunks[2].ChunkIndex})

	now := time.Now()
	chunks[0].Status = session.ChunkDeleted
	chunks[0].AnalyzedAt = &now
	require.NoError(t, s.UpdateChunk(ctx, chunks[0]))

	chunks, err = s.ListChunks(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ChunkDeleted, chunks[0].Status)
	require.NotNil(t, chunks[0].AnalyzedAt)
}

func TestAnalysisRecords_ContiguousIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s)

	last, err := s.LastAnalysisRecord(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	for i := 0; i < 3; i++ {
		r := &session.AnalysisRecord{
			SessionID:   sess.ID,
			WindowIndex: i,
			Content:     "window text",
			StartOffset: float64(i * 10),
			EndOffset:   float64(i*10 + 15),
			VideoPath:   "sessions/x/windows/w.webm",
			CreatedAt:   time.Now(),
		}
		require.NoError(t, s.AppendAnalysisRecord(ctx, r))
		assert.Equal(t, "window text", r.RefinedContent)
	}

	// Gaps and repeats are both refused.
	err = s.AppendAnalysisRecord(ctx, &session.AnalysisRecord{SessionID: sess.ID, WindowIndex: 5, Content: "x"})
	assert.ErrorIs(t, err, ErrWindowIndexMismatch)
	err = s.AppendAnalysisRecord(ctx, &session.AnalysisRecord{SessionID: sess.ID, WindowIndex: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrWindowIndexMismatch)

	n, err := s.CountAnalysisRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	last, err = s.LastAnalysisRecord(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.WindowIndex)
	assert.Equal(t, 20.0, last.StartOffset)

	all, err := s.ListAnalysisRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, i, r.WindowIndex)
	}
}

func TestDeleteSession_RemovesChunksAndRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doomed := newSession(t, s)
	kept := newSession(t, s)

	for _, id := range []string{doomed.ID, kept.ID} {
		require.NoError(t, s.CreateChunk(ctx, &session.VideoChunk{
			SessionID: id, ChunkIndex: 0, Status: session.ChunkUploaded, UploadedAt: time.Now(),
		}))
		require.NoError(t, s.AppendAnalysisRecord(ctx, &session.AnalysisRecord{
			SessionID: id, WindowIndex: 0, Content: "x", VideoPath: "k", CreatedAt: time.Now(),
		}))
	}

	require.NoError(t, s.DeleteSession(ctx, doomed.ID))

	_, err := s.GetSession(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	chunks, err := s.ListChunks(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	n, err := s.CountAnalysisRecords(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	chunks, err = s.ListChunks(ctx, kept.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	n, err = s.CountAnalysisRecords(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.DeleteSession(ctx, doomed.ID), ErrNotFound)
}

func TestUserMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.GetUserMemory(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, session.EmptyMemory, m)

	require.NoError(t, s.PutUserMemory(ctx, "user-1", `{"likes":["tea"]}`))
	require.NoError(t, s.PutUserMemory(ctx, "user-1", `{"likes":["tea","rain"]}`))

	m, err = s.GetUserMemory(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, `{"likes":["tea","rain"]}`, m)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vidsight.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	newSession(t, s)
	require.NoError(t, s.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	list, err := reopened.ListSessions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTimeConversion(t *testing.T) {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 123456000, time.UTC)
	assert.True(t, ts.Equal(timeFromUnix(unixSeconds(ts))))
}
