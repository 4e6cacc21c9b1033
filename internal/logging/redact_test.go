package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidsight/internal/config"
)

func defaultEncoder(t *testing.T) *RedactingEncoder {
	t.Helper()
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg"}), NewDefaultConfig().Redact)
	require.NoError(t, err)
	return enc
}

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_SensitiveKeys(t *testing.T) {
	enc := defaultEncoder(t)

	out := encode(t, enc, zap.String("secret_key", "AKIA-very-secret"))
	assert.Contains(t, out, masked)
	assert.NotContains(t, out, "AKIA-very-secret")

	out = encode(t, enc, zap.String("object_key", "sessions/1/windows/w0_0-15s.webm"))
	assert.Contains(t, out, "sessions/1/windows/w0_0-15s.webm")
}

func TestRedactingEncoder_Patterns(t *testing.T) {
	enc := defaultEncoder(t)

	assert.Contains(t, encode(t, enc, zap.String("header", "Bearer abc.def")), maskedPattern)
	assert.Contains(t, encode(t, enc, zap.String("url", "https://b.example/o?x-amz-signature=deadbeef")), maskedPattern)
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc := defaultEncoder(t)
	child := enc.Clone()
	zap.String("presigned_url", "https://b.example/o?sig=1").AddTo(child)

	out := encode(t, child)
	assert.Contains(t, out, `"presigned_url":"[REDACTED]"`)
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zapcore.EncoderConfig{}), Redact{Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecret(t *testing.T) {
	enc := defaultEncoder(t)

	out := encode(t, enc, Secret("cos_secret_key", config.Secret("abcd")))
	assert.Contains(t, out, `"cos_secret_key":"[REDACTED:4]"`)
	assert.NotContains(t, out, "abcd")
}
