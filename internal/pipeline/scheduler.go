package pipeline

import (
	"fmt"
	"math"
)

// WindowParams are the process-wide windowing parameters in seconds.
type WindowParams struct {
	Size    float64
	Step    float64
	MinSize float64
}

// Validate requires 0 < Step < Size and a positive MinSize.
func (p WindowParams) Validate() error {
	if !(p.Step > 0 && p.Step < p.Size) {
		return fmt.Errorf("%w: window step %.1f must be in (0, %.1f)", ErrValidation, p.Step, p.Size)
	}
	if p.MinSize <= 0 {
		return fmt.Errorf("%w: min window size must be positive", ErrValidation)
	}
	return nil
}

// WindowState is the scheduling state of a session.
type WindowState struct {
	Length    float64
	LastStart float64
	// NextIndex is the number of windows already produced.
	NextIndex int
}

// Window is a half-open range [Start, End) of the master video.
type Window struct {
	Index int
	Start float64
	End   float64
}

// Duration is End - Start.
func (w Window) Duration() float64 { return w.End - w.Start }

// NextWindow returns the window following lastStart, if one is due. ok is
// false when nothing fires. final is true when the window is the clamped
// tail of the last chunk, after which scheduling stops.
func NextWindow(p WindowParams, length, lastStart float64, isLastChunk bool) (w Window, ok, final bool) {
	nextStart := lastStart + p.Step
	nextEnd := nextStart + p.Size

	normal := length >= nextEnd
	remaining := length - nextStart
	lastChunk := isLastChunk && remaining >= p.MinSize

	if !normal && !lastChunk {
		return Window{}, false, false
	}
	return Window{Start: nextStart, End: math.Min(nextEnd, length)}, true, lastChunk && !normal
}

// Plan returns every window due for state, numbered from state.NextIndex.
func Plan(p WindowParams, state WindowState, isLastChunk bool) []Window {
	var out []Window
	lastStart := state.LastStart
	for idx := state.NextIndex; ; idx++ {
		w, ok, final := NextWindow(p, state.Length, lastStart, isLastChunk)
		if !ok {
			return out
		}
		w.Index = idx
		out = append(out, w)
		lastStart = w.Start
		if final {
			return out
		}
	}
}
