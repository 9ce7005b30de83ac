package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, err := Parse([]byte("{}"))
		require.NoError(t, err)
		assert.Equal(t, 0, c.Workers)
		assert.Equal(t, 1000, c.IterationCap)
		require.NotNil(t, c.Storage)
		assert.Equal(t, BackendMemory, c.Storage.Backend)
		assert.Equal(t, 50*time.Millisecond, c.Storage.RetryInterval)
	})

	t.Run("Full", func(t *testing.T) {
		c, err := Parse([]byte(`
workers: 4
iterationCap: 200
logLevel: 2
storage:
  backend: local
  path: /var/lib/deltaflow
  retryMax: 3
  checkpointsKept: 5
`))
		require.NoError(t, err)
		assert.Equal(t, 4, c.Workers)
		assert.Equal(t, 200, c.IterationCap)
		assert.Equal(t, 2, c.LogLevel)
		assert.Equal(t, BackendLocal, c.Storage.Backend)
		assert.Equal(t, "/var/lib/deltaflow", c.Storage.Path)
		assert.Equal(t, 3, c.Storage.RetryMax)
		assert.Equal(t, uint64(5), c.Storage.CheckpointsKept)
	})

	t.Run("NullStorage", func(t *testing.T) {
		// Explicit null overrides the default and disables journaling.
		c, err := Parse([]byte("storage: null"))
		require.NoError(t, err)
		assert.Nil(t, c.Storage)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := Parse([]byte("wrokers: 4"))
		require.Error(t, err)
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		_, err := Parse([]byte("storage: {backend: s3}"))
		require.Error(t, err)
	})

	t.Run("LocalNeedsPath", func(t *testing.T) {
		_, err := Parse([]byte("storage: {backend: local}"))
		require.Error(t, err)
	})

	t.Run("NegativeWorkers", func(t *testing.T) {
		_, err := Parse([]byte("workers: -1"))
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
