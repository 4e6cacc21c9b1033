// Package storage uploads window clips and master recordings to object
// storage and hands out time-limited URLs for them.
//
// Three backends are supported, selected per session by tag:
//   - "minio": self-hosted S3-compatible storage
//   - "oss":   Alibaba Cloud Object Storage Service
//   - "cos":   Tencent Cloud Object Storage
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ContentType is set on every uploaded object.
const ContentType = "video/webm"

// DefaultURLExpiry is how long a PublicURL stays valid.
const DefaultURLExpiry = time.Hour

var (
	// ErrUnknownBackend is returned for a tag with no backend.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrBucketMissing is returned when a backend that cannot create
	// buckets finds its bucket absent.
	ErrBucketMissing = errors.New("bucket does not exist")

	// ErrNotConfigured is returned when a backend's credentials are absent.
	ErrNotConfigured = errors.New("storage backend not configured")
)

// Gateway is the uniform contract every object-storage backend implements.
type Gateway interface {
	// Name returns the backend tag.
	Name() string

	// EnsureReady verifies (or, where the backend allows it, creates) the
	// target bucket.
	EnsureReady(ctx context.Context) error

	// Upload stores the local file under objectKey and returns the key.
	Upload(ctx context.Context, localPath, objectKey string) (string, error)

	// PublicURL returns a GET URL for objectKey, valid for the configured
	// expiry.
	PublicURL(ctx context.Context, objectKey string) (string, error)

	// Delete removes objectKey. Deleting an absent object is not an error.
	Delete(ctx context.Context, objectKey string) error
}

// Resolver maps a session's backend tag to its gateway.
type Resolver interface {
	Get(ctx context.Context, tag string) (Gateway, error)
}

// WindowKey is the object key of one analyzed window clip.
func WindowKey(sessionID string, windowIndex int, start, end float64) string {
	return fmt.Sprintf("sessions/%s/windows/w%d_%.0f-%.0fs.webm", sessionID, windowIndex, start, end)
}

// FullVideoKey is the object key of a session analyzed in FULL mode.
func FullVideoKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/full_video.webm", sessionID)
}

// MasterKey is the object key under which a kept master video is archived.
func MasterKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/master_video.webm", sessionID)
}
