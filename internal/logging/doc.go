// Package logging is vidsightd's structured logger.
//
// Every method takes a context and adds the fields stored on it: the
// active span's trace_id and span_id, then session.id, chunk.index,
// window.index and request.id when set. A session's windows can then be
// followed across dispatcher workers by filtering on session.id.
//
//	cfg, err := logging.FromObservability(appCfg.Observability)
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sess.ID)
//	ctx = logging.WithWindowIndex(ctx, 3)
//	logger.Info(ctx, "window analyzed", zap.Float64("start", 30))
//
// Output goes to stdout and, with telemetry enabled, through the
// OpenTelemetry log bridge. Storage credentials and presigned URLs are
// masked by the encoder. Entries below error level are sampled per
// message; errors never are. TraceLevel sits below Debug and carries
// per-event push traffic.
//
// Tests use NewTestLogger, which records entries for AssertLogged and
// AssertField.
package logging
