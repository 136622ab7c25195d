package httpstore_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-deposit/pkg/deposit"
	"github.com/tendant/simple-deposit/pkg/deposit/storage/httpstore"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/manuscript.pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "8")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Tue, 15 Jun 2021 10:00:00 GMT")
		_, _ = io.WriteString(w, "%PDF-1.4")
	})
	mux.HandleFunc("/files/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStore(t *testing.T) {
	srv := newServer(t)
	store, err := httpstore.New(httpstore.Config{
		BaseURL: srv.URL + "/files/",
		Header:  http.Header{"Authorization": []string{"Bearer token"}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Meta", func(t *testing.T) {
		meta, err := store.GetObjectMeta(ctx, "manuscript.pdf")
		require.NoError(t, err)
		assert.Equal(t, int64(8), meta.Size)
		assert.Equal(t, "application/pdf", meta.ContentType)
		assert.Equal(t, "abc", meta.ETag)
		assert.Equal(t, 2021, meta.UpdatedAt.Year())
	})

	t.Run("Download", func(t *testing.T) {
		rc, err := store.Download(ctx, "/manuscript.pdf")
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(body))
	})

	t.Run("Open", func(t *testing.T) {
		rc, size, err := store.Open(ctx, "manuscript.pdf")
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, int64(8), size)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Download(ctx, "missing.pdf")
		assert.ErrorIs(t, err, deposit.ErrObjectNotFound)
	})

	t.Run("ServerError", func(t *testing.T) {
		_, err := store.GetObjectMeta(ctx, "broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, deposit.ErrObjectNotFound)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("ReadOnly", func(t *testing.T) {
		assert.ErrorIs(t, store.Upload(ctx, "x", strings.NewReader("x")), httpstore.ErrReadOnly)
		assert.ErrorIs(t, store.Delete(ctx, "x"), httpstore.ErrReadOnly)
	})
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := httpstore.New(httpstore.Config{})
	assert.Error(t, err)
	_, err = httpstore.New(httpstore.Config{BaseURL: "ftp://example.org"})
	assert.Error(t, err)
}
