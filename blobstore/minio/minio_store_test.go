package minio

import (
	"context"
	"os"
	"testing"

	"github.com/hupe1980/vecclf/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("VECCLF_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	ctx := context.Background()

	store, err := New(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-vecclf",
		Prefix:    "test-prefix/",
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "run_embeds", data))

	blob, err := store.Open(ctx, "run_embeds")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "minio", string(buf))

	got, err := blobstore.ReadAll(ctx, store, "run_embeds")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	w, err := store.Create(ctx, "run_labels")
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "run_")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_embeds", "run_labels"}, names)

	require.NoError(t, store.Delete(ctx, "run_embeds"))
	require.NoError(t, store.Delete(ctx, "run_labels"))

	_, err = store.Open(ctx, "run_embeds")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
