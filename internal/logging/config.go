package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

// maxPatternLen bounds redaction patterns, which run against every string
// field written.
const maxPatternLen = 200

// Config selects the daemon's log level, encoding and sinks.
type Config struct {
	Level zapcore.Level
	// Format is "json" or "console".
	Format string
	// Bridge forwards entries to the OpenTelemetry log provider handed to
	// NewLogger. Stdout output is always on.
	Bridge  bool
	Service string
	Sample  Sample
	Redact  Redact
}

// Sample thins repeated entries below error level. Within each Tick the
// first Initial entries with a given message pass, then every Thereafter-th.
// A zero Tick disables sampling.
type Sample struct {
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// Redact lists the field keys whose values are masked, and value patterns
// that mask a string under any key.
type Redact struct {
	Keys     []string
	Patterns []string
}

// credentialKeys covers the storage backends' and AI providers' secrets
// plus presigned URLs, which grant read access until they expire.
var credentialKeys = []string{
	"password", "secret", "token", "api_key", "authorization",
	"access_key", "secret_key", "access_key_secret",
	"minio_secret_key", "oss_access_key_secret", "cos_secret_key", "openai_api_key",
	"presigned_url", "signed_url",
}

// NewDefaultConfig returns the daemon's defaults: info level JSON, sampled
// at 100 then 1 in 10 per second, with credentials masked.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Service: "vidsight",
		Sample:  Sample{Tick: time.Second, Initial: 100, Thereafter: 10},
		Redact: Redact{
			Keys: credentialKeys,
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`(?i)x-(amz|oss|cos)-signature=\S+`,
			},
		},
	}
}

// FromObservability builds a config from the daemon's observability
// settings. Empty level or format keep the defaults.
func FromObservability(obs config.ObservabilityConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if obs.LogLevel != "" {
		lvl, err := LevelFromString(obs.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", obs.LogLevel, err)
		}
		cfg.Level = lvl
	}
	if obs.LogFormat != "" {
		cfg.Format = obs.LogFormat
	}
	if obs.ServiceName != "" {
		cfg.Service = obs.ServiceName
	}
	cfg.Bridge = obs.EnableTelemetry
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Sample.Tick < 0 {
		return fmt.Errorf("sample tick must be >= 0, got %s", c.Sample.Tick)
	}
	if c.Sample.Tick > 0 && (c.Sample.Initial < 1 || c.Sample.Thereafter < 0) {
		return fmt.Errorf("sampling needs initial >= 1 and thereafter >= 0")
	}
	_, err := compilePatterns(c.Redact.Patterns)
	return err
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
