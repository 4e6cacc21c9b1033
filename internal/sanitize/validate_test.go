package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		root    string
		wantErr error
	}{
		{"file inside root", filepath.Join(root, "s1", "master.webm"), root, nil},
		{"no root constraint", "/var/tmp/x", "", nil},
		{"empty", "", root, ErrEmptyPath},
		{"dot dot", filepath.Join(root, "s1", "..", "..", "etc"), root, ErrPathTraversal},
		{"outside root", "/etc/passwd", root, ErrPathTraversal},
		{"the root itself", root, root, ErrPathTraversal},
		{"sibling with shared prefix", root + "-other/file", root, ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.root)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestValidatePath_RelativeIsResolved(t *testing.T) {
	got, err := ValidatePath("scratch/file", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.True(t, strings.HasSuffix(got, filepath.Join("scratch", "file")))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(uuid.New().String()))

	for _, id := range []string{
		"",
		"s1",
		"../../etc",
		"6F9619FF-8B86-D011-B42D-00CF4FC964FF",          // not canonical
		"{6f9619ff-8b86-d011-b42d-00cf4fc964ff}",        // braces
		"urn:uuid:6f9619ff-8b86-d011-b42d-00cf4fc964ff", // urn form
	} {
		assert.ErrorIs(t, ValidateSessionID(id), ErrInvalidSessionID, id)
	}
}

func TestValidateUserID(t *testing.T) {
	for _, id := range []string{"u1", "alice@example.com", "用户-42", "auth0|abc"} {
		assert.NoError(t, ValidateUserID(id), id)
	}
	for _, id := range []string{"", "a b", "a/b", `a\b`, "tab\tid", "nul\x00", strings.Repeat("x", 129)} {
		assert.ErrorIs(t, ValidateUserID(id), ErrInvalidUserID, id)
	}
}
