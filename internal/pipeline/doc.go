// Package pipeline turns uploaded video chunks into a sequence of analyzed,
// overlapping windows.
//
// Each chunk is folded into the session's master video by the Accumulator,
// the pure scheduler (NextWindow, Plan) decides which windows became due,
// and the WindowProcessor extracts, uploads, analyzes and persists each of
// them. The Runner drives one chunk through those steps and owns the
// session's status transitions. The Dispatcher serializes work per session
// on a bounded worker pool, and the Finalizer titles completed sessions.
//
// Failures are reported as *StageError values carrying one of the error
// kinds (ErrMediaOps, ErrStorage, ErrAI, ErrPersistence, ...). Cleanup
// failures are logged and never escalate.
package pipeline
