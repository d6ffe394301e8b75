package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fresh(t *testing.T) (*Config, error) {
	t.Helper()
	configReady = false
	config = Config{}
	t.Cleanup(func() {
		configReady = false
		config = Config{}
	})
	return GetConfig()
}

func TestGetConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := fresh(t)
		require.NoError(t, err)

		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Nil(t, cfg.Store.Postgres, "postgres block is dropped for the memory store")
		assert.Equal(t, "docker", cfg.Containers.Engine)
		assert.Equal(t, 4, cfg.Worker.Threads)
		assert.Equal(t, 5*time.Second, cfg.Worker.RetryDelay)
		assert.Equal(t, 24*365*time.Hour, cfg.Repo.DefaultValidity)
		assert.InDelta(t, 1.0, cfg.Logging.TraceSampleRatio, 0)
		assert.False(t, cfg.S3Archive.Enabled)
		assert.True(t, cfg.S3Archive.Compress)
		assert.Equal(t, "pottery@pottery.local", cfg.Repo.CommitterEmail)
	})

	t.Run("ExampleFile", func(t *testing.T) {
		example, err := os.ReadFile(filepath.Join("..", "..", "pottery.example.yaml"))
		require.NoError(t, err)
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pottery.yaml"), example, 0o644))
		t.Chdir(dir)

		cfg, err := fresh(t)
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Store.Driver)
		require.NotNil(t, cfg.Store.Postgres)
		assert.Equal(t, int16(5432), cfg.Store.Postgres.Port)
		assert.Equal(t, "pottery@pottery.local", cfg.Repo.CommitterEmail)
		assert.Equal(t, "pottery-submissions", cfg.S3Archive.BucketName)
	})

	t.Run("Cached", func(t *testing.T) {
		first, err := fresh(t)
		require.NoError(t, err)
		second, err := GetConfig()
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("Environment", func(t *testing.T) {
		t.Setenv("POTTERY_WORKER_THREADS", "2")
		t.Setenv("POTTERY_CONTAINERS_ENGINE", "local")

		cfg, err := fresh(t)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Worker.Threads)
		assert.Equal(t, "local", cfg.Containers.Engine)
	})

	t.Run("ArchiveNeedsBucket", func(t *testing.T) {
		t.Setenv("POTTERY_S3_ARCHIVE_ENABLED", "true")
		t.Setenv("POTTERY_S3_ARCHIVE_ENDPOINT", "localhost:9000")

		_, err := fresh(t)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BucketName")
	})

	t.Run("InvalidEngine", func(t *testing.T) {
		t.Setenv("POTTERY_CONTAINERS_ENGINE", "podman")

		_, err := fresh(t)
		require.Error(t, err)
	})

	t.Run("PostgresDSN", func(t *testing.T) {
		cfg := &Config{Store: &StoreConfig{Postgres: &PostgresConfig{
			User:     "pottery",
			Password: "p@ss word",
			Host:     "db",
			Port:     5432,
			Database: "grades",
		}}}
		assert.Equal(t, "postgresql://pottery:p%40ss+word@db:5432/grades", cfg.PostgresDSN())
	})
}
