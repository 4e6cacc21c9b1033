package aiservice

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Delta is one increment of an analysis result.
type Delta struct {
	Content string
	// Final marks the last increment of the stream.
	Final bool
}

// Emitter sends a delta to the consumer. It fails once the stream is
// closed or its context is done.
type Emitter func(Delta) error

// Stream is an incremental analysis result. Deltas are produced by a
// goroutine and consumed with Recv or Drain. The terminal error, if any,
// is reported after the last delta.
type Stream struct {
	deltas chan Delta
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream starts produce in a goroutine and returns the stream it feeds.
// The context passed to produce is cancelled by Close.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emitter) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{deltas: make(chan Delta), cancel: cancel}
	go func() {
		defer close(s.deltas)
		emit := func(d Delta) error {
			select {
			case s.deltas <- d:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.err = produce(ctx, emit)
	}()
	return s
}

// StaticStream returns a stream that yields each part as a delta, marking
// the last one final, then ends with err.
func StaticStream(ctx context.Context, err error, parts ...string) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emitter) error {
		for i, p := range parts {
			if e := emit(Delta{Content: p, Final: i == len(parts)-1}); e != nil {
				return e
			}
		}
		return err
	})
}

// Recv returns the next delta. It returns io.EOF when the stream ended
// cleanly, or the producer's error.
func (s *Stream) Recv() (Delta, error) {
	d, ok := <-s.deltas
	if ok {
		return d, nil
	}
	if s.err != nil {
		return Delta{}, s.err
	}
	return Delta{}, io.EOF
}

// Drain consumes the whole stream, calling fn for each delta, and returns
// the concatenated content. Drain closes the stream.
func (s *Stream) Drain(fn func(Delta)) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(d.Content)
		if fn != nil {
			fn(d)
		}
	}
}

// Close cancels the producer. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(s.cancel)
}
