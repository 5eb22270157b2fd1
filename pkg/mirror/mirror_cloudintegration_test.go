//go:build cloudintegration

package mirror_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/wsfetch/pkg/mirror"
	"github.com/3leaps/wsfetch/test/cloudtest"
)

func motoConfig(bucket string) mirror.Config {
	return mirror.Config{
		Bucket:          bucket,
		Prefix:          "installs",
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	}
}

func TestMirror_Upload_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("uploads install tree", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "maps"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "maps", "arena.bsp"), []byte("map"), 0o644))

		m, err := mirror.New(ctx, motoConfig(bucket), nil)
		require.NoError(t, err)

		sum, err := m.Upload(ctx, dir, "Arena")
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Files)

		assert.Equal(t, "map", string(cloudtest.GetObjectT(t, ctx, bucket, "installs/Arena/maps/arena.bsp")))
	})

	t.Run("exclude globs", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("k"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.log"), []byte("s"), 0o644))

		cfg := motoConfig(bucket)
		cfg.Exclude = []string{"**/*.log"}
		m, err := mirror.New(ctx, cfg, nil)
		require.NoError(t, err)
		require.NoError(t, m.Mirror(ctx, dir, "Arena"))

		keys, err := cloudtest.ListKeys(ctx, bucket)
		require.NoError(t, err)
		assert.Equal(t, []string{"installs/Arena/keep.txt"}, keys)
	})

	t.Run("missing bucket", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

		m, err := mirror.New(ctx, motoConfig("nonexistent-bucket-12345"), nil)
		require.NoError(t, err)

		err = m.Mirror(ctx, dir, "x")
		require.ErrorIs(t, err, mirror.ErrBucketNotFound)
	})
}
