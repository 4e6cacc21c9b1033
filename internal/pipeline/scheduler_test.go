package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultParams = WindowParams{Size: 15, Step: 10, MinSize: 5}

func TestWindowParams_Validate(t *testing.T) {
	assert.NoError(t, defaultParams.Validate())
	for _, p := range []WindowParams{
		{Size: 15, Step: 15, MinSize: 5},
		{Size: 15, Step: 0, MinSize: 5},
		{Size: 10, Step: 15, MinSize: 5},
		{Size: 15, Step: 10, MinSize: 0},
	} {
		assert.ErrorIs(t, p.Validate(), ErrValidation, "%+v", p)
	}
}

// Two chunks reaching 12s then 24s, neither last.
func TestPlan_ScenarioA(t *testing.T) {
	p := defaultParams

	first := Plan(p, WindowState{Length: 12, LastStart: -10}, false)
	assert.Empty(t, first)

	second := Plan(p, WindowState{Length: 24, LastStart: -10}, false)
	require.Len(t, second, 1)
	assert.Equal(t, Window{Index: 0, Start: 0, End: 15}, second[0])

	// lastStart is now 0; the next window would end at 25 > 24.
	assert.Empty(t, Plan(p, WindowState{Length: 24, LastStart: 0, NextIndex: 1}, false))
}

// A single last chunk reaching 24s.
func TestPlan_ScenarioB(t *testing.T) {
	got := Plan(defaultParams, WindowState{Length: 24, LastStart: -10}, true)
	assert.Equal(t, []Window{
		{Index: 0, Start: 0, End: 15},
		{Index: 1, Start: 10, End: 24},
	}, got)
}

func TestNextWindow_Final(t *testing.T) {
	w, ok, final := NextWindow(defaultParams, 24, 0, true)
	require.True(t, ok)
	assert.True(t, final)
	assert.Equal(t, 14.0, w.Duration())

	_, ok, final = NextWindow(defaultParams, 40, 0, true)
	assert.True(t, ok)
	assert.False(t, final, "a full window is never the final short one")
}

func TestPlan_WindowCountFormula(t *testing.T) {
	p := defaultParams
	for _, length := range []float64{0, 5, 14.9, 15, 24.9, 25, 26, 60, 123.4, 600} {
		got := Plan(p, WindowState{Length: length, LastStart: -p.Step}, false)

		want := 0
		if length >= p.Size {
			want = int(math.Floor((length-p.Size)/p.Step)) + 1
		}
		require.Len(t, got, want, "length %.1f", length)

		// lastStart after N windows is -S + N*S, and indexes have no gaps.
		if want > 0 {
			last := got[len(got)-1]
			assert.Equal(t, -p.Step+float64(want)*p.Step, last.Start)
		}
		for i, w := range got {
			assert.Equal(t, i, w.Index)
			assert.Equal(t, p.Size, w.Duration())
		}
	}
}

func TestPlan_IncrementalMatchesOneShot(t *testing.T) {
	p := defaultParams
	lengths := []float64{4, 9, 17, 31, 33, 58, 61}

	var incremental []Window
	state := WindowState{LastStart: -p.Step}
	for _, l := range lengths {
		state.Length = l
		ws := Plan(p, state, false)
		for _, w := range ws {
			state.LastStart = w.Start
			state.NextIndex = w.Index + 1
		}
		incremental = append(incremental, ws...)
	}

	oneShot := Plan(p, WindowState{Length: 61, LastStart: -p.Step}, false)
	assert.Equal(t, oneShot, incremental)
}

func TestPlan_LastChunkTail(t *testing.T) {
	strict := WindowParams{Size: 15, Step: 10, MinSize: 8}
	tests := []struct {
		name   string
		params WindowParams
		length float64
		want   []Window
	}{
		{"shorter than min window", defaultParams, 4, nil},
		{"exactly min window", defaultParams, 5, []Window{{0, 0, 5}}},
		{"short single window", defaultParams, 12, []Window{{0, 0, 12}}},
		{"clamped tail", defaultParams, 29, []Window{{0, 0, 15}, {1, 10, 25}, {2, 20, 29}}},
		{"tail equal to overlap", defaultParams, 25, []Window{{0, 0, 15}, {1, 10, 25}, {2, 20, 25}}},
		{"tail below min is dropped", strict, 27, []Window{{0, 0, 15}, {1, 10, 25}}},
		{"tail at min is kept", strict, 28, []Window{{0, 0, 15}, {1, 10, 25}, {2, 20, 28}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.params
			got := Plan(p, WindowState{Length: tt.length, LastStart: -p.Step}, true)
			assert.Equal(t, tt.want, got)
			for _, w := range got {
				assert.GreaterOrEqual(t, w.Duration(), p.MinSize)
				assert.LessOrEqual(t, w.End, tt.length)
			}
		})
	}
}
