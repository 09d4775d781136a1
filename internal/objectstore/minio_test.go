package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestTranslateMinio(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantNil  bool
		notFound bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "NoSuchKey", err: minio.ErrorResponse{Code: "NoSuchKey"}, notFound: true},
		{name: "NoSuchBucket", err: minio.ErrorResponse{Code: "NoSuchBucket"}, notFound: true},
		{name: "AccessDenied", err: minio.ErrorResponse{Code: "AccessDenied", Message: "denied"}},
		{name: "InternalError", err: minio.ErrorResponse{Code: "InternalError", Message: "boom"}},
		{name: "transport", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateMinio("get", "k", tt.err)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.notFound {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.NotErrorIs(t, err, ErrStoreIO)
				return
			}
			assert.ErrorIs(t, err, ErrStoreIO)
			assert.NotErrorIs(t, err, ErrNotFound)
			var se *StoreError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "get", se.Op)
			assert.Equal(t, "k", se.Key)
			assert.Contains(t, err.Error(), "minio:")
		})
	}
}

func TestMinioBlobs_ObjectKey(t *testing.T) {
	m := &MinioBlobs{bucket: "b", prefix: "nemuri/sessions"}
	name, err := m.objectKey("0f8c")
	require.NoError(t, err)
	assert.Equal(t, "nemuri/sessions/0f8c", name)

	m.prefix = ""
	name, err = m.objectKey("0f8c")
	require.NoError(t, err)
	assert.Equal(t, "0f8c", name)
}

// 不正なキーはクライアントに届く前に拒否される。
func TestMinioBlobs_UnportableKeysWarnAndReject(t *testing.T) {
	ctx := context.Background()
	rec := &warnRecorder{}
	m := &MinioBlobs{bucket: "b", logger: rec}

	assert.ErrorIs(t, m.Put(ctx, "", []byte("x")), ErrIllegalKey)
	assert.Empty(t, rec.warns, "empty keys are rejected without a warning")

	for _, key := range []string{"not/portable", `a\b`, "x:y", "..", ".", "tab\tkey"} {
		assert.ErrorIs(t, m.Put(ctx, key, []byte("x")), ErrIllegalKey, key)
	}
	_, err := m.Get(ctx, "a|b")
	assert.ErrorIs(t, err, ErrIllegalKey)
	assert.ErrorIs(t, m.Delete(ctx, "a?b"), ErrIllegalKey)
	_, err = m.Has(ctx, "a*b")
	assert.ErrorIs(t, err, ErrIllegalKey)

	require.Len(t, rec.warns, 9)
	for _, w := range rec.warns {
		assert.Equal(t, "objectstore.key.unportable", w)
	}
}

func startMinio(t *testing.T) *minio.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping minio integration test in short mode")
	}

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start minio container")
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)
	return client
}

func TestMinioBlobs_Integration(t *testing.T) {
	client := startMinio(t)
	ctx := context.Background()

	b, err := NewMinioBlobs(ctx, MinioConfig{Client: client, Bucket: "nemuri", Prefix: "/sessions/"})
	require.NoError(t, err, "bucket is created on first open")
	_, err = NewMinioBlobs(ctx, MinioConfig{Client: client, Bucket: "nemuri", Prefix: "carts"})
	require.NoError(t, err, "reopening an existing bucket succeeds")

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err := b.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Delete(ctx, "missing"), "deleting an absent key is not an error")

	require.NoError(t, b.Put(ctx, "s1", []byte("first")))
	require.NoError(t, b.Put(ctx, "s1", []byte("second")))
	got, err := b.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	_, err = client.StatObject(ctx, "nemuri", "sessions/s1", minio.StatObjectOptions{})
	require.NoError(t, err, "objects live under the trimmed prefix")

	ok, err = b.Has(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "s1"))
	_, err = b.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMinioBlobs_StoreRoundTrip(t *testing.T) {
	client := startMinio(t)
	ctx := context.Background()

	b, err := NewMinioBlobs(ctx, MinioConfig{Client: client, Bucket: "nemuri-store"})
	require.NoError(t, err)
	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	s := NewStore[*record](b, NewGobCodec[*record](c))

	in := &record{Name: "cart", Items: []string{"apple", "pear"}, Next: &record{Name: "child"}}
	require.NoError(t, s.Store(ctx, "id-1", in))
	out, err := s.Load(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, s.Remove(ctx, "id-1"))
	_, err = s.Load(ctx, "id-1")
	assert.True(t, IsNotFound(err))
}
