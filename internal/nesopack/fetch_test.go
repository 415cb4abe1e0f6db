package nesopack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSourceDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tarball bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg", "src-1.0.tar.gz")
	require.NoError(t, fetchSource(context.Background(), srv.URL+"/src-1.0.tar.gz", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball bytes", string(data))

	// Partial file and lock are gone after a clean download.
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchSourceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "src.tar.gz")
	err := fetchSource(ctx, "http://127.0.0.1:1/src.tar.gz", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchSourceSkipsExistingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "src.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("cached"), 0o644))

	// No server behind this URL: a cached file must short-circuit the
	// download entirely.
	require.NoError(t, fetchSource(context.Background(), "http://127.0.0.1:1/never", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}
