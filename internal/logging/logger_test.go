package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestFromObservability(t *testing.T) {
	cfg, err := FromObservability(config.ObservabilityConfig{
		LogLevel:        "trace",
		LogFormat:       "console",
		ServiceName:     "vidsight-edge",
		EnableTelemetry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "vidsight-edge", cfg.Service)
	assert.True(t, cfg.Bridge)

	cfg, err = FromObservability(config.ObservabilityConfig{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.False(t, cfg.Bridge)

	_, err = FromObservability(config.ObservabilityConfig{LogLevel: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sample = Sample{Tick: time.Second}
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Sample = Sample{}
	assert.NoError(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redact.Patterns = []string{string(make([]byte, maxPatternLen+1))}
	assert.Error(t, cfg.Validate())
}

func TestLogger_LevelsReachCore(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "trace message")
	tl.Debug(ctx, "debug message")
	tl.Info(ctx, "info message")
	tl.Warn(ctx, "warn message")
	tl.Error(ctx, "error message")

	tl.AssertLogged(t, TraceLevel, "trace message")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug message")
	tl.AssertLogged(t, zapcore.InfoLevel, "info message")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn message")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error message")
}

func TestLogger_ContextFieldsAttached(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "3f2a-b7")
	ctx = WithChunkIndex(ctx, 2)
	ctx = WithWindowIndex(ctx, 5)

	tl.Info(ctx, "window analyzed", zap.Float64("start", 50))

	tl.AssertField(t, "window analyzed", "session.id", "3f2a-b7")
	tl.AssertField(t, "window analyzed", "chunk.index", int64(2))
	tl.AssertField(t, "window analyzed", "window.index", int64(5))
}

func TestLogger_With(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "sweeper"))

	child.Info(context.Background(), "sweep finished")

	tl.AssertField(t, "sweep finished", "component", "sweeper")
	assert.Len(t, tl.All(), 1)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() { l.Info(context.Background(), "dropped") })
	assert.False(t, l.Enabled(zapcore.ErrorLevel))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("chatty")
	assert.Error(t, err)
}
