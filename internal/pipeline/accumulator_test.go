package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/session"
)

func newTestAccumulator(t *testing.T) (*Accumulator, *fakeMedia, string) {
	t.Helper()
	media := &fakeMedia{}
	temp := t.TempDir()
	return NewAccumulator(media, temp, 10, logging.NewNop()), media, temp
}

func TestAccumulator_UsesProbedLength(t *testing.T) {
	acc, _, temp := newTestAccumulator(t)
	s := &session.Session{ID: "s1"}

	chunk := filepath.Join(temp, "c0.webm")
	writeChunk(t, chunk, 7.5)
	length, err := acc.Append(context.Background(), s, chunk, 30)
	require.NoError(t, err)

	assert.Equal(t, 7.5, length)
	assert.Equal(t, 7.5, s.CurrentVideoLength)
	assert.Equal(t, acc.MasterPath("s1"), s.MasterVideoPath)
	assert.Equal(t, -10.0, s.LastWindowStartTime)
	assert.FileExists(t, s.MasterVideoPath)
	assert.FileExists(t, chunk, "the caller owns the chunk file")
}

func TestAccumulator_ConcatenatesInOrder(t *testing.T) {
	acc, _, temp := newTestAccumulator(t)
	s := &session.Session{ID: "s1"}

	for i, d := range []float64{4, 6, 2.5} {
		chunk := filepath.Join(temp, "c.webm")
		writeChunk(t, chunk, d)
		_, err := acc.Append(context.Background(), s, chunk, 1)
		require.NoError(t, err, "chunk %d", i)
	}

	assert.Equal(t, 12.5, s.CurrentVideoLength)
	data, err := os.ReadFile(s.MasterVideoPath)
	require.NoError(t, err)
	assert.Equal(t, "dur:4\ndur:6\ndur:2.5\n", string(data))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(s.MasterVideoPath), masterTempFile))
}

func TestAccumulator_ConcatFailureKeepsMaster(t *testing.T) {
	acc, media, temp := newTestAccumulator(t)
	s := &session.Session{ID: "s1"}

	chunk := filepath.Join(temp, "c.webm")
	writeChunk(t, chunk, 5)
	_, err := acc.Append(context.Background(), s, chunk, 5)
	require.NoError(t, err)
	before, err := os.ReadFile(s.MasterVideoPath)
	require.NoError(t, err)

	media.concatErr = errors.New("concat failed")
	writeChunk(t, chunk, 5)
	_, err = acc.Append(context.Background(), s, chunk, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMediaOps)

	after, err := os.ReadFile(s.MasterVideoPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 5.0, s.CurrentVideoLength)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(s.MasterVideoPath), masterTempFile))
}

func TestAccumulator_ProbeFailure(t *testing.T) {
	acc, media, temp := newTestAccumulator(t)
	media.probeErr = errors.New("ffprobe: invalid data")
	s := &session.Session{ID: "s1"}

	chunk := filepath.Join(temp, "c.webm")
	writeChunk(t, chunk, 5)
	_, err := acc.Append(context.Background(), s, chunk, 5)
	assert.ErrorIs(t, err, ErrMediaOps)
	assert.Equal(t, "accumulate", stageOf(t, err))
}

// stageOf returns the stage of a StageError.
func stageOf(t *testing.T, err error) string {
	t.Helper()
	var se *StageError
	require.ErrorAs(t, err, &se)
	return se.Stage
}
