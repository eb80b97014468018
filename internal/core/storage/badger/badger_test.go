package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "replica/id", []byte("abc")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, "replica/id")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestInvalidOption(t *testing.T) {
	_, err := Open(t.TempDir(), WithValueLogFileSize(0))
	assert.Error(t, err)
}
