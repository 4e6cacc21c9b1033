package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(NewParams{UserID: "u1", AIModel: "qwen", StorageType: "minio"}, 10, now)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusRecording, s.Status)
	assert.Equal(t, ModeSlidingWindow, s.AnalysisMode)
	assert.Equal(t, -10.0, s.LastWindowStartTime)
	assert.Zero(t, s.CurrentVideoLength)
	assert.Empty(t, s.MasterVideoPath)
	assert.Equal(t, now, s.StartTime)
	assert.Nil(t, s.EndTime)
}

func TestCanTransition(t *testing.T) {
	all := []Status{StatusRecording, StatusAnalyzing, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusRecording, StatusAnalyzing}: true,
		{StatusRecording, StatusCompleted}: true,
		{StatusRecording, StatusFailed}:    true,
		{StatusAnalyzing, StatusAnalyzing}: true,
		{StatusAnalyzing, StatusCompleted}: true,
		{StatusAnalyzing, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_TerminalStampsEndTime(t *testing.T) {
	now := time.Now()
	s := New(NewParams{}, 10, now)

	require.NoError(t, s.Transition(StatusAnalyzing, now))
	assert.Nil(t, s.EndTime)
	assert.True(t, s.AcceptsChunks())

	later := now.Add(time.Minute)
	require.NoError(t, s.Transition(StatusCompleted, later))
	require.NotNil(t, s.EndTime)
	assert.Equal(t, later, *s.EndTime)
	assert.False(t, s.AcceptsChunks())
}

func TestTransition_FromTerminalRejected(t *testing.T) {
	s := New(NewParams{}, 10, time.Now())
	require.NoError(t, s.Transition(StatusFailed, time.Now()))

	err := s.Transition(StatusAnalyzing, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(err, ErrTerminal))
	assert.Equal(t, StatusFailed, s.Status)
}

func TestApplyProbedLength_Monotonic(t *testing.T) {
	s := New(NewParams{}, 10, time.Now())

	require.NoError(t, s.ApplyProbedLength(12.5))
	require.NoError(t, s.ApplyProbedLength(12.5))
	require.NoError(t, s.ApplyProbedLength(24))
	assert.Equal(t, 24.0, s.CurrentVideoLength)

	err := s.ApplyProbedLength(20)
	assert.ErrorIs(t, err, ErrLengthRegression)
	assert.Equal(t, 24.0, s.CurrentVideoLength)
}

func TestParseAnalysisMode(t *testing.T) {
	m, ok := ParseAnalysisMode("")
	assert.True(t, ok)
	assert.Equal(t, ModeSlidingWindow, m)

	m, ok = ParseAnalysisMode("FULL")
	assert.True(t, ok)
	assert.Equal(t, ModeFull, m)

	_, ok = ParseAnalysisMode("PARTIAL")
	assert.False(t, ok)
}

func TestAnalysisRecord_DisplayContent(t *testing.T) {
	r := AnalysisRecord{Content: "raw"}
	assert.Equal(t, "raw", r.DisplayContent())
	r.RefinedContent = "refined"
	assert.Equal(t, "refined", r.DisplayContent())
}
