// Package sanitize validates identifiers and paths that come from callers
// or from stored records before they reach the filesystem.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences
	// or escapes its allowed root.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidSessionID indicates the session ID is not a UUID.
	ErrInvalidSessionID = errors.New("invalid session ID format")

	// ErrInvalidUserID indicates the user ID format is invalid.
	ErrInvalidUserID = errors.New("invalid user ID format")
)

// MaxUserIDLength bounds caller identities.
const MaxUserIDLength = 128

// ValidatePath checks a path for security issues:
//   - No directory traversal (..)
//   - Resolves to an absolute path inside allowedRoot, when one is given
//
// It returns the cleaned absolute path.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if allowedRoot == "" {
		return absPath, nil
	}

	absRoot, err := filepath.Abs(allowedRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", fmt.Errorf("%w: path outside allowed root", ErrPathTraversal)
	}
	// The root itself is not a file inside it.
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
	}
	return absPath, nil
}

// ValidateSessionID checks that id is a canonical UUID. Session IDs name
// scratch directories and object keys.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// ValidateUserID checks a caller identity: 1-128 printable characters
// without whitespace or path separators.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, MaxUserIDLength)
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) || r == '/' || r == '\\' {
			return fmt.Errorf("%w: contains %q", ErrInvalidUserID, r)
		}
	}
	return nil
}
