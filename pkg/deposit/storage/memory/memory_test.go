package memory_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	memorystorage "github.com/tendant/simple-deposit/pkg/deposit/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "submissions/1/manuscript.pdf"
	testData := "%PDF-1.4 manuscript body"

	t.Run("Upload", func(t *testing.T) {
		err := backend.Upload(ctx, testKey, strings.NewReader(testData))
		assert.NoError(t, err)
	})

	t.Run("GetObjectMeta", func(t *testing.T) {
		meta, err := backend.GetObjectMeta(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testKey, meta.Key)
		assert.Equal(t, int64(len(testData)), meta.Size)
		assert.Equal(t, "application/octet-stream", meta.ContentType) // Default content type
		assert.False(t, meta.UpdatedAt.IsZero())
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		downloaded, err := io.ReadAll(reader)
		assert.NoError(t, err)
		assert.Equal(t, testData, string(downloaded))
	})

	t.Run("UploadWithParams", func(t *testing.T) {
		key := "outbox/pkg.tar.gz"
		err := backend.UploadWithParams(ctx, strings.NewReader(testData), deposit.UploadParams{
			ObjectKey: key,
			MimeType:  "application/gzip",
			Size:      -1,
		})
		require.NoError(t, err)

		meta, err := backend.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "application/gzip", meta.ContentType)

		// Overwriting without a type keeps the stored one
		require.NoError(t, backend.Upload(ctx, key, strings.NewReader("x")))
		meta, err = backend.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "application/gzip", meta.ContentType)
		assert.Equal(t, int64(1), meta.Size)
	})

	t.Run("Delete", func(t *testing.T) {
		key := "submissions/1/delete-me"
		require.NoError(t, backend.Upload(ctx, key, strings.NewReader(testData)))
		require.NoError(t, backend.Delete(ctx, key))

		_, err := backend.GetObjectMeta(ctx, key)
		assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
	})

	t.Run("ErrorCases", func(t *testing.T) {
		missing := "nonexistent/key"

		meta, err := backend.GetObjectMeta(ctx, missing)
		assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
		assert.Nil(t, meta)

		reader, err := backend.Download(ctx, missing)
		assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
		assert.Nil(t, reader)

		assert.ErrorIs(t, backend.Delete(ctx, missing), deposit.ErrObjectNotFound)
	})
}

func TestMemoryBackendConcurrency(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < numOperations; j++ {
				key := fmt.Sprintf("concurrent/%d/%d", goroutineID, j)
				data := fmt.Sprintf("data from goroutine %d, operation %d", goroutineID, j)

				if !assert.NoError(t, backend.Upload(ctx, key, strings.NewReader(data))) {
					return
				}
				reader, err := backend.Download(ctx, key)
				if !assert.NoError(t, err) {
					return
				}
				downloaded, err := io.ReadAll(reader)
				reader.Close()
				assert.NoError(t, err)
				assert.Equal(t, data, string(downloaded))
				assert.NoError(t, backend.Delete(ctx, key))
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, backend.Keys())
}
