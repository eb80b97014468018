package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := Open(filepath.Join(t.TempDir(), "replica.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "c/100%/state", []byte("x")))
	require.NoError(t, s.Set(ctx, "c/1000/state", []byte("y")))

	keys, err := s.Keys(ctx, "c/100%")
	require.NoError(t, err)
	assert.Equal(t, []string{"c/100%/state"}, keys)
}
