package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}
	if idx, ok := ChunkIndexFromContext(ctx); ok {
		fields = append(fields, zap.Int("chunk.index", idx))
	}
	if idx, ok := WindowIndexFromContext(ctx); ok {
		fields = append(fields, zap.Int("window.index", idx))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type sessionCtxKey struct{}
type chunkCtxKey struct{}
type windowCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && utf8.ValidString(id) && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context.
// Session IDs arrive from request paths, so malformed values are not
// attached rather than being written into log fields.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if !validID(sessionID) {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// ChunkIndexFromContext extracts the chunk index from context.
func ChunkIndexFromContext(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(chunkCtxKey{}).(int)
	return idx, ok
}

// WithChunkIndex adds the chunk index being folded to context.
func WithChunkIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, chunkCtxKey{}, idx)
}

// WindowIndexFromContext extracts the window index from context.
func WindowIndexFromContext(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(windowCtxKey{}).(int)
	return idx, ok
}

// WithWindowIndex adds the window index being analyzed to context.
func WithWindowIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, windowCtxKey{}, idx)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Malformed IDs are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}
