package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures the self-hosted S3-compatible backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	URLExpiry time.Duration
}

// MinIOGateway stores objects in a MinIO (or any S3-compatible) bucket.
type MinIOGateway struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinIOGateway creates a client for cfg. No network call is made.
func NewMinIOGateway(cfg MinIOConfig) (*MinIOGateway, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: endpoint and bucket are required: %w", ErrNotConfigured)
	}
	region := cfg.Region
	if region == "" {
		// A fixed region keeps presigning local instead of asking the
		// server for the bucket location.
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &MinIOGateway{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (g *MinIOGateway) Name() string { return BackendMinIO }

// EnsureReady creates the bucket when it is missing.
func (g *MinIOGateway) EnsureReady(ctx context.Context) error {
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket %s: %w", g.bucket, err)
	}
	if exists {
		return nil
	}
	if err := g.client.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio: create bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *MinIOGateway) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	_, err := g.client.FPutObject(ctx, g.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio: upload %s: %w", objectKey, err)
	}
	return objectKey, nil
}

func (g *MinIOGateway) PublicURL(ctx context.Context, objectKey string) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, objectKey, g.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("minio: presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (g *MinIOGateway) Delete(ctx context.Context, objectKey string) error {
	if err := g.client.RemoveObject(ctx, g.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio: delete %s: %w", objectKey, err)
	}
	return nil
}
