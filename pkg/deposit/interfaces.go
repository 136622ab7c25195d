package deposit

import (
	"context"
	"io"
	"time"
)

// ContentStore defines the interface for storage backends holding file
// content and finished packages
type ContentStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Opener is implemented by stores that can report the length of an object
// together with its content, saving a separate metadata round trip. Size is
// -1 when unknown.
type Opener interface {
	Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error)
}

// EntitySource resolves the entity graph of a submission. The returned set
// holds the submission, every entity reachable from it and every file that
// points back at it.
type EntitySource interface {
	Resolve(ctx context.Context, submissionID string) (*EntitySet, error)
}

// ObjectMeta contains metadata about an object in storage. Size is -1 when
// the backend cannot tell.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
	// Size is the content length when known, -1 otherwise
	Size int64
}
