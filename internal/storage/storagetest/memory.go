// Package storagetest provides an in-memory storage gateway for tests.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/vidsight/internal/storage"
)

// Memory is a storage.Gateway that keeps objects in a map.
type Memory struct {
	name string

	mu      sync.Mutex
	objects map[string][]byte
	uploads []string
	deletes []string

	// Failure injection, checked on every call.
	UploadErr error
	URLErr    error
	DeleteErr error
	ReadyErr  error
}

var _ storage.Gateway = (*Memory)(nil)

// NewMemory returns an empty gateway reporting the given backend name.
func NewMemory(name string) *Memory {
	return &Memory{name: name, objects: map[string][]byte{}}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadyErr
}

// Upload copies the local file's bytes. The file must exist.
func (m *Memory) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("memory upload: %w", err)
	}
	m.objects[objectKey] = data
	m.uploads = append(m.uploads, objectKey)
	return objectKey, nil
}

func (m *Memory) PublicURL(ctx context.Context, objectKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.URLErr != nil {
		return "", m.URLErr
	}
	return "mem://" + m.name + "/" + objectKey + "?expires=3600", nil
}

func (m *Memory) Delete(ctx context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, objectKey)
	m.deletes = append(m.deletes, objectKey)
	return nil
}

// Objects returns the keys currently stored, sorted.
func (m *Memory) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is stored.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Uploads returns every key uploaded, in order.
func (m *Memory) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...)
}

// Deletes returns every key deleted, in order.
func (m *Memory) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

// Resolver serves fixed gateways by tag and rejects everything else.
type Resolver map[string]storage.Gateway

func (r Resolver) Get(ctx context.Context, tag string) (storage.Gateway, error) {
	g, ok := r[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, tag)
	}
	return g, nil
}
