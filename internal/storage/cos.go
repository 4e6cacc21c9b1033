package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig configures the Tencent Cloud COS backend.
// BucketURL has the form https://<bucket>-<appid>.cos.<region>.myqcloud.com.
type COSConfig struct {
	BucketURL string
	SecretID  string
	SecretKey string
	URLExpiry time.Duration
}

// COSGateway stores objects in an existing COS bucket.
type COSGateway struct {
	client    *cos.Client
	secretID  string
	secretKey string
	expiry    time.Duration
}

// NewCOSGateway creates a client for cfg.
func NewCOSGateway(cfg COSConfig) (*COSGateway, error) {
	if cfg.BucketURL == "" || cfg.SecretID == "" {
		return nil, fmt.Errorf("cos: bucket url and secret id are required: %w", ErrNotConfigured)
	}
	u, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("cos: parse bucket url: %w", err)
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &COSGateway{client: client, secretID: cfg.SecretID, secretKey: cfg.SecretKey, expiry: expiry}, nil
}

func (g *COSGateway) Name() string { return BackendCOS }

// EnsureReady fails when the bucket is absent.
func (g *COSGateway) EnsureReady(ctx context.Context) error {
	exists, err := g.client.Bucket.IsExist(ctx)
	if err != nil {
		return fmt.Errorf("cos: check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("cos: %s: %w", g.client.BaseURL.BucketURL.Host, ErrBucketMissing)
	}
	return nil
}

func (g *COSGateway) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: ContentType},
	}
	if _, err := g.client.Object.PutFromFile(ctx, objectKey, localPath, opt); err != nil {
		return "", fmt.Errorf("cos: upload %s: %w", objectKey, err)
	}
	return objectKey, nil
}

func (g *COSGateway) PublicURL(ctx context.Context, objectKey string) (string, error) {
	u, err := g.client.Object.GetPresignedURL(ctx, http.MethodGet, objectKey, g.secretID, g.secretKey, g.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("cos: presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (g *COSGateway) Delete(ctx context.Context, objectKey string) error {
	if _, err := g.client.Object.Delete(ctx, objectKey); err != nil {
		return fmt.Errorf("cos: delete %s: %w", objectKey, err)
	}
	return nil
}
