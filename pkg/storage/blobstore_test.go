package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBlobstore(t *testing.T) {
	ctx := context.Background()
	bs := NewInMemoryBlobstore()

	t.Run("PutGet", func(t *testing.T) {
		v1, err := bs.Put(ctx, "a/b", []byte("hello"))
		require.NoError(t, err)
		require.NotEmpty(t, v1)

		data, version, err := bs.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
		assert.Equal(t, v1, version)

		v2, err := bs.Put(ctx, "a/b", []byte("world"))
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, _, err := bs.Get(ctx, "nope")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := bs.Exists(ctx, "a/b")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = bs.Exists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("List", func(t *testing.T) {
		_, err := bs.Put(ctx, "a/c", []byte("x"))
		require.NoError(t, err)
		_, err = bs.Put(ctx, "z", []byte("y"))
		require.NoError(t, err)

		keys, err := bs.List(ctx, "a/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a/b", "a/c"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, bs.Delete(ctx, "a/b"))
		ok, err := bs.Exists(ctx, "a/b")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting a missing key is not an error.
		assert.NoError(t, bs.Delete(ctx, "a/b"))
	})

	t.Run("Isolation", func(t *testing.T) {
		payload := []byte("mutable")
		_, err := bs.Put(ctx, "iso", payload)
		require.NoError(t, err)
		payload[0] = 'X'

		data, _, err := bs.Get(ctx, "iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("mutable"), data)
	})
}

func TestLocalBlobstore(t *testing.T) {
	ctx := context.Background()
	bs, err := NewLocalBlobstore(t.TempDir())
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		_, err := bs.Put(ctx, "wal/00000000000000000001.seg", []byte("segment"))
		require.NoError(t, err)

		data, _, err := bs.Get(ctx, "wal/00000000000000000001.seg")
		require.NoError(t, err)
		assert.Equal(t, []byte("segment"), data)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, _, err := bs.Get(ctx, "wal/none")
		require.Error(t, err)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		_, err := bs.Put(ctx, "wal/00000000000000000002.seg", []byte("s2"))
		require.NoError(t, err)
		_, err = bs.Put(ctx, "checkpoints/00000000000000000001/MANIFEST", []byte("{}"))
		require.NoError(t, err)

		keys, err := bs.List(ctx, "wal/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"wal/00000000000000000001.seg",
			"wal/00000000000000000002.seg",
		}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, bs.Delete(ctx, "wal/00000000000000000002.seg"))
		ok, err := bs.Exists(ctx, "wal/00000000000000000002.seg")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := bs.Put(ctx, "obj", []byte("v1"))
		require.NoError(t, err)
		_, err = bs.Put(ctx, "obj", []byte("v2"))
		require.NoError(t, err)

		data, _, err := bs.Get(ctx, "obj")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), data)
	})
}
