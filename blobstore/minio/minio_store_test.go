package minio

import (
	"context"
	"io"
	"testing"

	"github.com/hupe1980/verigo/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-verigo"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	_, err = client.ListBuckets(ctx)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		require.NoError(t, err)
	}

	store := NewStore(client, bucket, "test-prefix/")

	t.Run("Put and Open", func(t *testing.T) {
		data := []byte("hello minio world")
		require.NoError(t, store.Put(ctx, "greeting.bin", data))

		b, err := store.Open(ctx, "greeting.bin")
		require.NoError(t, err)
		defer func() { _ = b.Close() }()

		assert.Equal(t, int64(len(data)), b.Size())

		got, err := blobstore.ReadAll(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Ranged ReadAt", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "ranged.bin", []byte("0123456789")))

		b, err := store.Open(ctx, "ranged.bin")
		require.NoError(t, err)
		defer func() { _ = b.Close() }()

		buf := make([]byte, 4)
		n, err := b.ReadAt(ctx, buf, 3)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []byte("3456"), buf)

		n, err = b.ReadAt(ctx, buf, 8)
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Open missing", func(t *testing.T) {
		_, err := store.Open(ctx, "does-not-exist")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("List and Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "list/a.bin", []byte("a")))
		require.NoError(t, store.Put(ctx, "list/b.bin", []byte("b")))

		names, err := store.List(ctx, "list/")
		require.NoError(t, err)
		assert.Equal(t, []string{"list/a.bin", "list/b.bin"}, names)

		require.NoError(t, store.Delete(ctx, "list/a.bin"))
		require.NoError(t, store.Delete(ctx, "list/a.bin"))

		names, err = store.List(ctx, "list/")
		require.NoError(t, err)
		assert.Equal(t, []string{"list/b.bin"}, names)
	})
}
