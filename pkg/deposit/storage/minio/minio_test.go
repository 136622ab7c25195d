package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Bucket: "deposits"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")

	_, err = New(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")

	backend, err := New(Config{Endpoint: "localhost:9000", Bucket: "deposits", Prefix: "outbox/"})
	require.NoError(t, err)
	assert.Equal(t, "outbox/pkg.zip", backend.key("pkg.zip"))
}

func TestNotFoundMapping(t *testing.T) {
	err := notFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, "a/b")
	assert.ErrorIs(t, err, deposit.ErrObjectNotFound)

	assert.Nil(t, notFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, "a/b"))
}

// TestMinioBackend_Integration requires a running MinIO instance
func TestMinioBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		t.Skip("Skipping integration test: MINIO_* environment variables not set")
	}

	backend, err := New(Config{
		Endpoint:               endpoint,
		AccessKeyID:            accessKey,
		SecretAccessKey:        secretKey,
		Bucket:                 "deposit-test",
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	key := fmt.Sprintf("test/%d/pkg.zip", time.Now().UnixNano())
	data := []byte("zip bytes")

	require.NoError(t, backend.UploadWithParams(ctx, bytes.NewReader(data), deposit.UploadParams{
		ObjectKey: key, MimeType: "application/zip", Size: -1,
	}))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "application/zip", meta.ContentType)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, got)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.Download(ctx, key)
	assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
}
