package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(tick time.Duration) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.InfoLevel)
	return &Logger{zap: zap.New(sample(core, Sample{Tick: tick, Initial: 100, Thereafter: 10}))}, observed
}

func TestSample_ZeroTickDisables(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, sample(core, Sample{}))
}

func TestSample_ErrorsPassThrough(t *testing.T) {
	logger, observed := sampledLogger(time.Second)

	for i := 0; i < 150; i++ {
		logger.Error(context.Background(), "window failed")
	}

	assert.Len(t, observed.FilterMessage("window failed").All(), 150)
}

func TestSample_InfoThinned(t *testing.T) {
	logger, observed := sampledLogger(time.Minute)

	for i := 0; i < 300; i++ {
		logger.Info(context.Background(), "delta forwarded")
	}

	// 100 initial, then every 10th of the remaining 200.
	assert.Len(t, observed.FilterMessage("delta forwarded").All(), 120)
}

func TestLevelBand(t *testing.T) {
	core, _ := observer.New(TraceLevel)
	band := levelBand{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel}

	assert.False(t, band.Enabled(TraceLevel))
	assert.True(t, band.Enabled(zapcore.InfoLevel))
	assert.False(t, band.Enabled(zapcore.ErrorLevel))
	assert.False(t, band.With(nil).Enabled(zapcore.ErrorLevel))
}

func TestEncodeLevel_Trace(t *testing.T) {
	enc := newEncoder("json")
	buf, err := enc.EncodeEntry(zapcore.Entry{Level: TraceLevel, Message: "m"}, nil)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"trace"`)
}
