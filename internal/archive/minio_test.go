package archive

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMinIO connects to the server named by LINKVAULT_TEST_MINIO_ENDPOINT and
// skips the test when it is not set. Each test gets its own bucket.
func setupMinIO(t *testing.T) *MinIOStore {
	t.Helper()

	endpoint := os.Getenv("LINKVAULT_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("LINKVAULT_TEST_MINIO_ENDPOINT not set")
	}

	testLogger := logrus.New()
	testLogger.SetOutput(io.Discard)

	store, err := NewMinIOStore(MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("LINKVAULT_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("LINKVAULT_TEST_MINIO_SECRET_KEY"),
		UseSSL:    os.Getenv("LINKVAULT_TEST_MINIO_USE_SSL") == "true",
		Bucket:    "linkvault-test-" + uuid.NewString(),
	}, testLogger)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		assert.NoError(t, store.RemoveNamespace(ctx, "archives"))
		assert.NoError(t, store.client.RemoveBucket(ctx, store.bucket))
	})
	return store
}

func objectExists(t *testing.T, s *MinIOStore, key string) bool {
	t.Helper()
	_, err := s.client.StatObject(context.Background(), s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true
	}
	require.Equal(t, "NoSuchKey", minio.ToErrorResponse(err).Code, "unexpected stat error: %v", err)
	return false
}

func TestMinIOStore_RemoveNamespace(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	snap := &Snapshot{PDF: []byte("%PDF"), Image: []byte("png"), Preview: []byte("jpeg")}
	require.NoError(t, SaveSnapshot(ctx, store, 1, 100, snap))
	require.NoError(t, SaveSnapshot(ctx, store, 12, 200, snap))

	assert.True(t, objectExists(t, store, DocumentKey(1, 100)))
	assert.True(t, objectExists(t, store, ImageKey(1, 100)))
	assert.True(t, objectExists(t, store, PreviewKey(1, 100)))

	require.NoError(t, store.RemoveNamespace(ctx, CollectionNamespace(1)))
	assert.False(t, objectExists(t, store, DocumentKey(1, 100)))
	assert.False(t, objectExists(t, store, ImageKey(1, 100)))
	assert.True(t, objectExists(t, store, PreviewKey(1, 100)), "preview namespace is separate")
	assert.True(t, objectExists(t, store, DocumentKey(12, 200)), "archives/1 must not touch archives/12")
	assert.True(t, objectExists(t, store, ImageKey(12, 200)))

	require.NoError(t, store.RemoveNamespace(ctx, PreviewNamespace(1)))
	assert.False(t, objectExists(t, store, PreviewKey(1, 100)))
	assert.True(t, objectExists(t, store, PreviewKey(12, 200)))

	// trailing slash is normalised, not doubled
	require.NoError(t, store.RemoveNamespace(ctx, CollectionNamespace(12)+"/"))
	assert.False(t, objectExists(t, store, DocumentKey(12, 200)))
}

func TestMinIOStore_RemoveMissingNamespace(t *testing.T) {
	store := setupMinIO(t)
	ctx := context.Background()

	require.NoError(t, store.RemoveNamespace(ctx, CollectionNamespace(404)))
	require.NoError(t, store.RemoveNamespace(ctx, PreviewNamespace(404)))
}

func TestObjectPrefix(t *testing.T) {
	assert.Equal(t, "archives/1/", objectPrefix("archives/1"))
	assert.Equal(t, "archives/1/", objectPrefix("archives/1/"))
	assert.False(t, strings.HasPrefix(DocumentKey(12, 200), objectPrefix(CollectionNamespace(1))))
}
