package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port, no scheme
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	Region          string
	UseSSL          bool

	CreateBucketIfNotExist bool
}

// Backend is a MinIO implementation of the deposit.ContentStore interface
type Backend struct {
	client *minio.Client
	config Config
}

// New creates a MinIO client from the Config.
func New(config Config) (*Backend, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	backend := &Backend{client: client, config: config}
	if config.CreateBucketIfNotExist {
		if err := backend.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
	}
	return backend, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.config.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.config.Bucket, minio.MakeBucketOptions{Region: b.config.Region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", b.config.Bucket, err)
	}
	return nil
}

func (b *Backend) key(objectKey string) string {
	if b.config.Prefix == "" {
		return objectKey
	}
	return strings.TrimSuffix(b.config.Prefix, "/") + "/" + strings.TrimPrefix(objectKey, "/")
}

// notFound maps the MinIO error codes for a missing object onto deposit.ErrObjectNotFound.
func notFound(err error, objectKey string) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", deposit.ErrObjectNotFound, objectKey)
	}
	return nil
}

func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*deposit.ObjectMeta, error) {
	info, err := b.client.StatObject(ctx, b.config.Bucket, b.key(objectKey), minio.StatObjectOptions{})
	if err != nil {
		if nf := notFound(err, objectKey); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := make(map[string]string, len(info.UserMetadata)+1)
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}
	metadata["content_type"] = contentType

	return &deposit.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size,
		ContentType: contentType,
		UpdatedAt:   info.LastModified,
		ETag:        info.ETag,
		Metadata:    metadata,
	}, nil
}

func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, deposit.UploadParams{ObjectKey: objectKey, Size: -1})
}

// UploadWithParams streams content into the bucket. A negative size makes
// the client fall back to multipart upload of unknown length.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params deposit.UploadParams) error {
	size := params.Size
	if size < 0 {
		size = -1
	}
	opts := minio.PutObjectOptions{ContentType: params.MimeType}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	if _, err := b.client.PutObject(ctx, b.config.Bucket, b.key(params.ObjectKey), reader, size, opts); err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// Download fetches the object. The stat call surfaces a missing object here
// instead of on the first Read.
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.config.Bucket, b.key(objectKey), minio.GetObjectOptions{})
	if err != nil {
		if nf := notFound(err, objectKey); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if nf := notFound(err, objectKey); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if err := b.client.RemoveObject(ctx, b.config.Bucket, b.key(objectKey), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
