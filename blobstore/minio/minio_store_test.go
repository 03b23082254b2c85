package minio

import (
	"context"
	"testing"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Keys(t *testing.T) {
	s := NewStore(nil, "bucket", "indexes/")

	assert.Equal(t, "indexes/a.vsw", s.key("a.vsw"))
	assert.Equal(t, "a.vsw", s.relative("indexes/a.vsw"))
	assert.Equal(t, "nested/a.vsw", s.relative("indexes/nested/a.vsw"))

	root := NewStore(nil, "bucket", "")
	assert.Equal(t, "a.vsw", root.key("a.vsw"))
	assert.Equal(t, "a.vsw", root.relative("a.vsw"))
}

func TestMapError(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchKey"}
	assert.ErrorIs(t, mapError(err), blobstore.ErrNotFound)

	other := minio.ErrorResponse{Code: "AccessDenied"}
	assert.Equal(t, other, mapError(other))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	bucket := "test-vecswitch"

	store, err := New("localhost:9000", "minioadmin", "minioadmin", bucket, "test-prefix/", false)
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err := store.client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := store.client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "test.vsw", data))

	got, err := store.Get(ctx, "test.vsw")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "test.vsw")

	require.NoError(t, store.Delete(ctx, "test.vsw"))

	_, err = store.Get(ctx, "test.vsw")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
