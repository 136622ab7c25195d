// Package fs stores deposit content below a local directory. Object keys are
// slash separated paths relative to that directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-deposit/pkg/deposit"
)

type Config struct {
	BaseDir string
}

// Backend is a deposit.ContentStore rooted at one directory.
type Backend struct {
	root string
}

func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	root, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", config.BaseDir, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	return &Backend{root: root}, nil
}

// resolve maps objectKey below root and refuses keys that climb out of it.
func (b *Backend) resolve(objectKey string) (string, error) {
	p := filepath.Join(b.root, filepath.FromSlash(objectKey))
	rel, err := filepath.Rel(b.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes %s", objectKey, b.root)
	}
	return p, nil
}

func (b *Backend) missing(objectKey string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", deposit.ErrObjectNotFound, objectKey)
	}
	return err
}

// stat returns the info of a regular file; directories count as missing.
func (b *Backend) stat(objectKey string) (string, os.FileInfo, error) {
	p, err := b.resolve(objectKey)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", nil, b.missing(objectKey, err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%w: %s is a directory", deposit.ErrObjectNotFound, objectKey)
	}
	return p, info, nil
}

// GetObjectMeta guesses the content type from the extension and falls back
// to sniffing the first 512 bytes.
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*deposit.ObjectMeta, error) {
	p, info, err := b.stat(objectKey)
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = sniff(p)
	}
	return &deposit.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
		Metadata:    map[string]string{"content_type": contentType},
	}, nil
}

func sniff(p string) string {
	f, err := os.Open(p)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(head[:n])
}

// Open returns the file and its size from the same descriptor.
func (b *Backend) Open(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	p, err := b.resolve(objectKey)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, b.missing(objectKey, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", objectKey, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is a directory", deposit.ErrObjectNotFound, objectKey)
	}
	return f, info.Size(), nil
}

func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	rc, _, err := b.Open(ctx, objectKey)
	return rc, err
}

// Upload streams into a hidden temporary file next to the target and renames
// it into place, so readers never observe a partial object.
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) (err error) {
	p, err := b.resolve(objectKey)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", objectKey, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, reader); err != nil {
		return fmt.Errorf("write %s: %w", objectKey, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", objectKey, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("commit %s: %w", objectKey, err)
	}
	return nil
}

// UploadWithParams ignores the MIME type; it is detected again on read.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params deposit.UploadParams) error {
	return b.Upload(ctx, params.ObjectKey, reader)
}

// Delete removes the object and prunes directories it leaves empty, up to
// but not including the root.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	p, _, err := b.stat(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return b.missing(objectKey, err)
	}
	for dir := filepath.Dir(p); dir != b.root && strings.HasPrefix(dir, b.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
