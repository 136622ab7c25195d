// Package s3 keeps deposit file content and finished packages in an S3 or
// S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-deposit/pkg/deposit"
)

const defaultRegion = "us-east-1"

// Encryption modes for packages written to the bucket.
const (
	EncryptionNone = ""
	EncryptionAES  = "AES256"
	EncryptionKMS  = "aws:kms"
)

// Config selects the bucket and how to reach it. Without static keys the
// default AWS credential chain is used.
type Config struct {
	Bucket string
	Prefix string
	Region string

	AccessKeyID     string
	SecretAccessKey string

	// Endpoint and UsePathStyle point the client at S3-compatible services.
	Endpoint     string
	UsePathStyle bool

	Encryption string
	KMSKeyID   string

	CreateBucketIfNotExist bool

	// PartSize is the multipart chunk size for package uploads. Zero keeps
	// the uploader default.
	PartSize int64
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket name is required")
	}
	switch c.Encryption {
	case EncryptionNone, EncryptionAES, EncryptionKMS:
	default:
		return fmt.Errorf("unsupported encryption %q", c.Encryption)
	}
	if c.KMSKeyID != "" && c.Encryption != EncryptionKMS {
		return errors.New("a KMS key requires aws:kms encryption")
	}
	return nil
}

// Store is a deposit.ContentStore backed by one bucket.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      Config
}

// New connects to the bucket described by cfg.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		}
	})
	store := &Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if cfg.PartSize > 0 {
				u.PartSize = cfg.PartSize
			}
		}),
		cfg: cfg,
	}

	if cfg.CreateBucketIfNotExist {
		if err := store.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err == nil {
		return nil
	}
	if !hasCode(err, "NotFound", "NoSuchBucket", "BadRequest") {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.cfg.Bucket)}
	if s.cfg.Region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil && !hasCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Store) key(objectKey string) string {
	objectKey = strings.TrimPrefix(objectKey, "/")
	if s.cfg.Prefix == "" {
		return objectKey
	}
	return path.Join(s.cfg.Prefix, objectKey)
}

func (s *Store) GetObjectMeta(ctx context.Context, objectKey string) (*deposit.ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(objectKey)),
	})
	if err != nil {
		return nil, s.wrap("stat", objectKey, err)
	}

	meta := &deposit.ObjectMeta{
		Key:         objectKey,
		Size:        -1,
		ContentType: aws.ToString(out.ContentType),
		UpdatedAt:   aws.ToTime(out.LastModified),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:    out.Metadata,
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	return meta, nil
}

// Open returns the object body and its length from a single GetObject.
func (s *Store) Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(objectKey)),
	})
	if err != nil {
		return nil, 0, s.wrap("get", objectKey, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (s *Store) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	rc, _, err := s.Open(ctx, objectKey)
	return rc, err
}

func (s *Store) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return s.UploadWithParams(ctx, reader, deposit.UploadParams{ObjectKey: objectKey, Size: -1})
}

// UploadWithParams streams reader through the multipart uploader, so a
// package of unknown length is never held in memory whole. A reader that
// fails aborts the multipart upload and nothing is stored.
func (s *Store) UploadWithParams(ctx context.Context, reader io.Reader, params deposit.UploadParams) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(params.ObjectKey)),
		Body:   reader,
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}
	s.encrypt(input)

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return s.wrap("put", params.ObjectKey, err)
	}
	return nil
}

func (s *Store) encrypt(input *s3.PutObjectInput) {
	switch s.cfg.Encryption {
	case EncryptionAES:
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case EncryptionKMS:
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if s.cfg.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	}
}

func (s *Store) Delete(ctx context.Context, objectKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(objectKey)),
	})
	if err != nil {
		return s.wrap("delete", objectKey, err)
	}
	return nil
}

func (s *Store) wrap(op, objectKey string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: s3://%s/%s", deposit.ErrObjectNotFound, s.cfg.Bucket, s.key(objectKey))
	}
	return fmt.Errorf("s3 %s %s: %w", op, s.key(objectKey), err)
}

// isNotFound recognizes missing objects both from the typed errors of AWS
// and from the generic API errors S3-compatible services return.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return hasCode(err, "NoSuchKey", "NotFound")
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
