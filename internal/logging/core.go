package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const bridgeScope = "github.com/fyrsmithlabs/vidsight"

// buildCore writes redacted entries to stdout and, when cfg.Bridge is set
// and a provider exists, to the OpenTelemetry log pipeline.
func buildCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redact)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), cfg.Level)
	if cfg.Bridge && provider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore(bridgeScope, otelzap.WithLoggerProvider(provider)))
	}
	return sample(core, cfg.Sample), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// sample applies s to entries below error level. Errors always pass, so a
// burst of identical window failures is never thinned.
func sample(core zapcore.Core, s Sample) zapcore.Core {
	if s.Tick <= 0 {
		return core
	}
	below := zapcore.NewSamplerWithOptions(
		levelBand{Core: core, min: TraceLevel, max: zapcore.WarnLevel},
		s.Tick, s.Initial, s.Thereafter,
	)
	return zapcore.NewTee(levelBand{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}, below)
}

// levelBand passes only entries with min <= level <= max.
type levelBand struct {
	zapcore.Core
	min, max zapcore.Level
}

func (b levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= b.min && lvl <= b.max && b.Core.Enabled(lvl)
}

func (b levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !b.Enabled(e.Level) {
		return ce
	}
	return b.Core.Check(e, ce)
}

func (b levelBand) With(fields []zapcore.Field) zapcore.Core {
	return levelBand{Core: b.Core.With(fields), min: b.min, max: b.max}
}
