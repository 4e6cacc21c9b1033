package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMemory(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		update string
		want   string
	}{
		{"empty base", "{}", `{"name":"Ada"}`, `{"name":"Ada"}`},
		{"blank base", "", `{"name":"Ada"}`, `{"name":"Ada"}`},
		{"invalid base", "not json", `{"a":1}`, `{"a":1}`},
		{"blank update", `{"a":1}`, "  ", `{"a":1}`},
		{"scalar overwrite", `{"city":"Paris","age":30}`, `{"city":"Berlin"}`, `{"age":30,"city":"Berlin"}`},
		{"nested objects", `{"prefs":{"food":"tea","sport":"golf"}}`, `{"prefs":{"food":"coffee"}}`,
			`{"prefs":{"food":"coffee","sport":"golf"}}`},
		{"array union", `{"tags":["cat","dog"]}`, `{"tags":["dog","bird"]}`, `{"tags":["cat","dog","bird"]}`},
		{"array of objects", `{"people":[{"n":"a"}]}`, `{"people":[{"n":"a"},{"n":"b"}]}`,
			`{"people":[{"n":"a"},{"n":"b"}]}`},
		{"type change", `{"x":[1]}`, `{"x":"one"}`, `{"x":"one"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeMemory(tt.base, tt.update)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestMergeMemory_InvalidUpdate(t *testing.T) {
	_, err := MergeMemory(`{"a":1}`, `["not","an","object"]`)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = MergeMemory(`{"a":1}`, `{broken`)
	assert.ErrorIs(t, err, ErrValidation)
}
