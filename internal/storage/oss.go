package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig configures the Alibaba Cloud OSS backend.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	URLExpiry       time.Duration
}

// OSSGateway stores objects in an existing OSS bucket.
type OSSGateway struct {
	client *oss.Client
	bucket string
	expiry time.Duration
}

// NewOSSGateway creates a client for cfg.
func NewOSSGateway(cfg OSSConfig) (*OSSGateway, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("oss: endpoint, bucket and access key are required: %w", ErrNotConfigured)
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss: create client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &OSSGateway{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (g *OSSGateway) Name() string { return BackendOSS }

// EnsureReady fails when the bucket is absent; OSS buckets are provisioned
// out of band.
func (g *OSSGateway) EnsureReady(ctx context.Context) error {
	exists, err := g.client.IsBucketExist(g.bucket)
	if err != nil {
		return fmt.Errorf("oss: check bucket %s: %w", g.bucket, err)
	}
	if !exists {
		return fmt.Errorf("oss: %s: %w", g.bucket, ErrBucketMissing)
	}
	return nil
}

func (g *OSSGateway) handle() (*oss.Bucket, error) {
	b, err := g.client.Bucket(g.bucket)
	if err != nil {
		return nil, fmt.Errorf("oss: open bucket %s: %w", g.bucket, err)
	}
	return b, nil
}

func (g *OSSGateway) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	b, err := g.handle()
	if err != nil {
		return "", err
	}
	if err := b.PutObjectFromFile(objectKey, localPath, oss.ContentType(ContentType), oss.WithContext(ctx)); err != nil {
		return "", fmt.Errorf("oss: upload %s: %w", objectKey, err)
	}
	return objectKey, nil
}

func (g *OSSGateway) PublicURL(ctx context.Context, objectKey string) (string, error) {
	b, err := g.handle()
	if err != nil {
		return "", err
	}
	signed, err := b.SignURL(objectKey, oss.HTTPGet, int64(g.expiry/time.Second))
	if err != nil {
		return "", fmt.Errorf("oss: sign %s: %w", objectKey, err)
	}
	return signed, nil
}

func (g *OSSGateway) Delete(ctx context.Context, objectKey string) error {
	b, err := g.handle()
	if err != nil {
		return err
	}
	if err := b.DeleteObject(objectKey, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss: delete %s: %w", objectKey, err)
	}
	return nil
}
