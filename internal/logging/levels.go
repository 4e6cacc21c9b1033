package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Per-event push traffic logs here.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name. "trace" is accepted alongside zap's
// own names.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// encodeLevel writes TraceLevel as "trace"; zap would print "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
