// Package httpstore reads deposit file content from plain HTTP(S) locations.
// It is read-only: uploads and deletes are refused.
package httpstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

var ErrReadOnly = errors.New("http store is read-only")

// Config options for the HTTP backend
type Config struct {
	// BaseURL is prepended to every object key, e.g. "https://example.org/"
	BaseURL string
	Client  *http.Client
	Header  http.Header
}

// Backend is a read-only HTTP implementation of the deposit.ContentStore interface
type Backend struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

// New creates a new HTTP storage backend
func New(config Config) (*Backend, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("base URL %q must be http or https", config.BaseURL)
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Backend{baseURL: config.BaseURL, client: client, header: config.Header}, nil
}

func (b *Backend) url(objectKey string) string {
	if strings.HasSuffix(b.baseURL, "/") {
		return b.baseURL + strings.TrimPrefix(objectKey, "/")
	}
	return b.baseURL + "/" + strings.TrimPrefix(objectKey, "/")
}

func (b *Backend) do(ctx context.Context, method, objectKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.url(objectKey), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range b.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, objectKey, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", deposit.ErrObjectNotFound, objectKey)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %s", method, objectKey, resp.Status)
	}
	return resp, nil
}

// GetObjectMeta issues a HEAD request. Size is -1 when the server sends no
// Content-Length.
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*deposit.ObjectMeta, error) {
	resp, err := b.do(ctx, http.MethodHead, objectKey)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := &deposit.ObjectMeta{
		Key:         objectKey,
		Size:        resp.ContentLength,
		ContentType: contentType,
		ETag:        strings.Trim(resp.Header.Get("ETag"), "\""),
		Metadata:    map[string]string{"content_type": contentType},
	}
	if meta.Size < 0 {
		meta.Size = -1
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.UpdatedAt = t
		}
	}
	return meta, nil
}

// Open issues a single GET and takes the size from its Content-Length.
func (b *Backend) Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	resp, err := b.do(ctx, http.MethodGet, objectKey)
	if err != nil {
		return nil, 0, err
	}
	size := resp.ContentLength
	if size < 0 {
		size = -1
	}
	return resp.Body, size, nil
}

func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	rc, _, err := b.Open(ctx, objectKey)
	return rc, err
}

func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return ErrReadOnly
}

func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params deposit.UploadParams) error {
	return ErrReadOnly
}

func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	return ErrReadOnly
}
