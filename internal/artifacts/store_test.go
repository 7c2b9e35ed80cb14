package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := Ref{StageID: "build", Revision: "abc", RunID: "r1"}

	_, err := s.List(ctx, ref)
	require.True(t, errors.Is(err, ErrNotRecorded))

	paths := []string{"out/app.jar"}
	require.NoError(t, s.Record(ctx, ref, paths))
	paths[0] = "changed"

	got, err := s.List(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/app.jar"}, got)

	got[0] = "changed"
	again, err := s.List(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/app.jar"}, again)
}

func TestMinIOConfigFromEnv(t *testing.T) {
	t.Run("defaults with credentials", func(t *testing.T) {
		t.Setenv("PIPEGRAPH_MINIO_ACCESS_KEY", "access")
		t.Setenv("PIPEGRAPH_MINIO_SECRET_KEY", "secret")

		cfg, err := MinIOConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, MinIOConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "access",
			SecretKey: "secret",
			Region:    "us-east-1",
			Bucket:    "pipegraph-artifacts",
			Prefix:    "manifests",
		}, cfg)
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Setenv("PIPEGRAPH_MINIO_ACCESS_KEY", "")
		_, err := MinIOConfigFromEnv()
		require.ErrorContains(t, err, "access key is required")
	})

	t.Run("endpoint with scheme", func(t *testing.T) {
		t.Setenv("PIPEGRAPH_MINIO_ENDPOINT", "http://minio:9000")
		t.Setenv("PIPEGRAPH_MINIO_ACCESS_KEY", "access")
		t.Setenv("PIPEGRAPH_MINIO_SECRET_KEY", "secret")
		_, err := MinIOConfigFromEnv()
		require.ErrorContains(t, err, "must not include scheme")
	})

	t.Run("bad ssl flag", func(t *testing.T) {
		t.Setenv("PIPEGRAPH_MINIO_USE_SSL", "maybe")
		_, err := MinIOConfigFromEnv()
		require.ErrorContains(t, err, "PIPEGRAPH_MINIO_USE_SSL")
	})
}

func TestMinIOStore_ObjectKey(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
		Bucket:    "artifacts",
		Prefix:    "manifests",
	}
	client, err := NewMinIOClient(cfg)
	require.NoError(t, err)
	s := NewMinIOStore(client, cfg)

	key := s.objectKey(Ref{StageID: "package/backend", Revision: "abc 123", RunID: "r1"})
	assert.Equal(t, "manifests/package%2Fbackend/abc%20123/r1.json", key)
}
