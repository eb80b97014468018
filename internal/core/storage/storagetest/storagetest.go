// Package storagetest holds the behaviour every Storage backend must share.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/storage"
)

// Run exercises a fresh store from open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Storage) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "c/todos/state", []byte("one")))
		require.NoError(t, s.Set(ctx, "c/todos/state", []byte("two")))
		v, err := s.Get(ctx, "c/todos/state")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err := s.Get(ctx, "k")
		assert.True(t, storage.IsNotFound(err))
		assert.NoError(t, s.Delete(ctx, "k"), "deleting an absent key is not an error")
	})

	t.Run("keys by prefix sorted", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"c/b/state", "c/a/vv", "c/a/state", "replica/id", "c_x"} {
			require.NoError(t, s.Set(ctx, k, []byte(k)))
		}
		keys, err := s.Keys(ctx, "c/")
		require.NoError(t, err)
		assert.Equal(t, []string{"c/a/state", "c/a/vv", "c/b/state"}, keys)

		all, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("batch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SetBatch(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
		got, err := s.GetBatch(ctx, []string{"a", "b", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
	})

	t.Run("clear", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SetBatch(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
		require.NoError(t, s.Clear(ctx))
		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
