package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/vidsight/internal/session"
)

// MergeMemory merges update into base. Objects merge key by key
// recursively, arrays are unioned keeping first-seen order and scalars in
// update overwrite. An empty or invalid base counts as an empty object; an
// invalid update is an error.
func MergeMemory(base, update string) (string, error) {
	var b map[string]any
	if strings.TrimSpace(base) != "" {
		if err := json.Unmarshal([]byte(base), &b); err != nil {
			b = nil
		}
	}
	if b == nil {
		b = map[string]any{}
	}

	if strings.TrimSpace(update) == "" {
		update = session.EmptyMemory
	}
	var u map[string]any
	if err := json.Unmarshal([]byte(update), &u); err != nil {
		return "", fmt.Errorf("%w: memory update is not a JSON object: %w", ErrValidation, err)
	}

	merged := mergeObjects(b, u)
	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode memory: %w", err)
	}
	return string(out), nil
}

func mergeObjects(base, update map[string]any) map[string]any {
	for k, uv := range update {
		bv, ok := base[k]
		if !ok {
			base[k] = uv
			continue
		}
		switch u := uv.(type) {
		case map[string]any:
			if b, ok := bv.(map[string]any); ok {
				base[k] = mergeObjects(b, u)
				continue
			}
		case []any:
			if b, ok := bv.([]any); ok {
				base[k] = unionArrays(b, u)
				continue
			}
		}
		base[k] = uv
	}
	return base
}

func unionArrays(base, update []any) []any {
	seen := make(map[string]bool, len(base)+len(update))
	out := make([]any, 0, len(base)+len(update))
	for _, v := range append(append([]any{}, base...), update...) {
		key, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	return out
}
