package logging

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

const (
	masked        = "[REDACTED]"
	maskedPattern = "[REDACTED:pattern]"
)

// Secret logs that a credential is configured, and its length, without its
// value.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// RedactingEncoder masks values under credential keys, and string values
// matching a credential pattern, before the wrapped encoder sees them.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with r's rules. It fails if a pattern does
// not compile.
func NewRedactingEncoder(base zapcore.Encoder, r Redact) (*RedactingEncoder, error) {
	patterns, err := compilePatterns(r.Patterns)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(r.Keys))
	for _, k := range r.Keys {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return &RedactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

// premasked reports values Secret already produced.
func premasked(val string) bool {
	return strings.HasPrefix(val, "[REDACTED")
}

func (e *RedactingEncoder) sensitive(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *RedactingEncoder) matches(val string) bool {
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// mask returns the replacement for f, or f itself when nothing applies.
func (e *RedactingEncoder) mask(f zapcore.Field) zapcore.Field {
	switch {
	case f.Type == zapcore.StringType && premasked(f.String):
		return f
	case e.sensitive(f.Key):
		return zap.String(f.Key, masked)
	case f.Type == zapcore.StringType && e.matches(f.String):
		return zap.String(f.Key, maskedPattern)
	}
	return f
}

// EncodeEntry masks the entry's own fields. Fields added through With reach
// the encoder through the Add methods below instead.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.mask(f)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case premasked(val):
	case e.sensitive(key):
		val = masked
	case e.matches(val):
		val = maskedPattern
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		val = []byte(masked)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks the whole value under a sensitive key; nested values
// are not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
}
