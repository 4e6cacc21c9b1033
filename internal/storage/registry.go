package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidsight/internal/config"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

// Backend tags.
const (
	BackendMinIO = "minio"
	BackendOSS   = "oss"
	BackendCOS   = "cos"
)

// Factory builds a backend's gateway.
type Factory func() (Gateway, error)

// Backends returns every supported backend tag, sorted.
func Backends() []string {
	return []string{BackendCOS, BackendMinIO, BackendOSS}
}

// ValidateTag returns ErrUnknownBackend for tags with no backend. There is
// no fallback: an empty or misspelled tag is an error.
func ValidateTag(tag string) error {
	for _, b := range Backends() {
		if b == tag {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (supported: %v)", ErrUnknownBackend, tag, Backends())
}

// Registry resolves backend tags to ready gateways. Gateways are built and
// their bucket checked on first use, so a backend whose credentials are
// absent only fails the sessions that select it. A slow backend only
// blocks callers asking for the same tag.
type Registry struct {
	factories map[string]Factory
	logger    *logging.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// registryEntry serializes the build and readiness check of one tag.
type registryEntry struct {
	mu sync.Mutex
	gw Gateway
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates a registry with a factory for every tag in Backends.
func NewRegistry(cfg config.StorageConfig, urlExpiry time.Duration, logger *logging.Logger) *Registry {
	factories := make(map[string]Factory, len(Backends()))
	for _, tag := range Backends() {
		factories[tag] = factoryFor(tag, cfg, urlExpiry)
	}
	return NewRegistryWithFactories(factories, logger)
}

// NewRegistryWithFactories creates a registry over explicit factories.
func NewRegistryWithFactories(factories map[string]Factory, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{factories: factories, logger: logger, entries: map[string]*registryEntry{}}
}

// factoryFor maps every tag to its constructor. Adding a tag to Backends
// without a case here leaves a nil factory, which the registry tests catch.
func factoryFor(tag string, cfg config.StorageConfig, urlExpiry time.Duration) Factory {
	switch tag {
	case BackendMinIO:
		return func() (Gateway, error) {
			return NewMinIOGateway(MinIOConfig{
				Endpoint:  cfg.MinIOEndpoint,
				AccessKey: cfg.MinIOAccessKey,
				SecretKey: cfg.MinIOSecretKey.Value(),
				Bucket:    cfg.MinIOBucket,
				UseSSL:    cfg.MinIOUseSSL,
				URLExpiry: urlExpiry,
			})
		}
	case BackendOSS:
		return func() (Gateway, error) {
			return NewOSSGateway(OSSConfig{
				Endpoint:        cfg.OSSEndpoint,
				AccessKeyID:     cfg.OSSAccessKeyID,
				AccessKeySecret: cfg.OSSAccessKeySecret.Value(),
				Bucket:          cfg.OSSBucket,
				URLExpiry:       urlExpiry,
			})
		}
	case BackendCOS:
		return func() (Gateway, error) {
			return NewCOSGateway(COSConfig{
				BucketURL: cfg.COSBucketURL,
				SecretID:  cfg.COSSecretID,
				SecretKey: cfg.COSSecretKey.Value(),
				URLExpiry: urlExpiry,
			})
		}
	}
	return nil
}

// Get returns the ready gateway for tag. A failed build or readiness
// check is not cached; the next call tries again.
func (r *Registry) Get(ctx context.Context, tag string) (Gateway, error) {
	factory, ok := r.factories[tag]
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownBackend, tag, r.Tags())
	}

	r.mu.Lock()
	e := r.entries[tag]
	if e == nil {
		e = &registryEntry{}
		r.entries[tag] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gw != nil {
		return e.gw, nil
	}
	raw, err := factory()
	if err != nil {
		return nil, err
	}
	g := Instrument(raw, r.logger)
	if err := g.EnsureReady(ctx); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "storage backend ready", zap.String("backend", tag))
	e.gw = g
	return g, nil
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
