package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PIXELFORGE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, StorageBackendMinio, cfg.Storage.Backend)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.FetchTimeout)
	assert.Equal(t, int64(40_000_000), cfg.Pipeline.MaxPixels)
	assert.False(t, cfg.Pipeline.AllowPrivateHosts)
	assert.Equal(t, float64(24), cfg.Pipeline.FontSize)
	assert.Empty(t, cfg.Database.DSN)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("PIXELFORGE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORAGE_BACKEND", "LOCAL")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("PIPELINE_FETCH_TIMEOUT", "5s")
	t.Setenv("PIPELINE_MAX_PIXELS", "1000000")
	t.Setenv("PIPELINE_ALLOW_PRIVATE_HOSTS", "true")
	t.Setenv("RATE_LIMIT_CAPACITY", "not-a-number")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, int64(1_000_000), cfg.Pipeline.MaxPixels)
	assert.True(t, cfg.Pipeline.AllowPrivateHosts)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.FetchTimeout)
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.Equal(t, 3, cfg.Queue.RedisClientOpt().DB)
	assert.Equal(t, 3, cfg.Queue.RedisOptions().DB)
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nMINIO_BUCKET=from-file\n"), 0o600))
	t.Setenv("PIXELFORGE_ENV_FILE", path)
	t.Setenv("MINIO_BUCKET", "from-env")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Storage.Bucket)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("PIXELFORGE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORAGE_BACKEND", "ftp")

	_, err := Load()
	assert.ErrorContains(t, err, "STORAGE_BACKEND")
}

func TestLoadRejectsNonPositivePixelLimit(t *testing.T) {
	t.Setenv("PIXELFORGE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PIPELINE_MAX_PIXELS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "PIPELINE_MAX_PIXELS")
}
