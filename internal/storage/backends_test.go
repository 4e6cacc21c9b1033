package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Presigning is computed locally by each SDK, so these run without a server.

func TestMinIOGateway_PublicURL(t *testing.T) {
	g, err := NewMinIOGateway(MinIOConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "vidsight",
	})
	require.NoError(t, err)
	assert.Equal(t, BackendMinIO, g.Name())
	assert.Equal(t, DefaultURLExpiry, g.expiry)

	u, err := g.PublicURL(context.Background(), "sessions/s1/windows/w0_0-15s.webm")
	require.NoError(t, err)
	assert.Contains(t, u, "http://localhost:9000/vidsight/sessions/s1/windows/w0_0-15s.webm")
	assert.Contains(t, u, "X-Amz-Expires=3600")
	assert.Contains(t, u, "X-Amz-Signature=")
}

func TestOSSGateway_PublicURL(t *testing.T) {
	g, err := NewOSSGateway(OSSConfig{
		Endpoint:        "https://oss-cn-hangzhou.aliyuncs.com",
		AccessKeyID:     "ak",
		AccessKeySecret: "sk",
		Bucket:          "vidsight",
		URLExpiry:       30 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, BackendOSS, g.Name())

	u, err := g.PublicURL(context.Background(), "sessions/s1/full_video.webm")
	require.NoError(t, err)
	// The SDK escapes the slashes of the key in the signed URL.
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "vidsight.oss-cn-hangzhou.aliyuncs.com", parsed.Host)
	assert.Equal(t, "/sessions/s1/full_video.webm", parsed.Path)
	assert.Contains(t, u, "Signature=")
}

func TestCOSGateway_PublicURL(t *testing.T) {
	g, err := NewCOSGateway(COSConfig{
		BucketURL: "https://vidsight-1250000000.cos.ap-guangzhou.myqcloud.com",
		SecretID:  "id",
		SecretKey: "key",
	})
	require.NoError(t, err)
	assert.Equal(t, BackendCOS, g.Name())

	u, err := g.PublicURL(context.Background(), "sessions/s1/windows/w1_10-25s.webm")
	require.NoError(t, err)
	assert.Contains(t, u, "vidsight-1250000000.cos.ap-guangzhou.myqcloud.com/sessions/s1/windows/w1_10-25s.webm")
	assert.Contains(t, u, "q-sign-algorithm=sha1")
}

func TestNewGateways_RequireConfig(t *testing.T) {
	_, err := NewMinIOGateway(MinIOConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewOSSGateway(OSSConfig{Endpoint: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewCOSGateway(COSConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
