package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Storage { return New(0) })
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	s := New(10)

	require.NoError(t, s.Set(ctx, "k", []byte("12345")))
	assert.Equal(t, 6, s.Used())

	err := s.Set(ctx, "k2", []byte("123456"))
	assert.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assert.True(t, errs.IsRetryable(err))

	// Overwriting releases the old value first.
	require.NoError(t, s.Set(ctx, "k", []byte("123456789")))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.Zero(t, s.Used())
}

func TestFault(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	s.Fail(storage.Unavailable("disk gone", errs.ErrStorageUnavailable))

	assert.ErrorIs(t, s.Set(ctx, "k", nil), errs.ErrStorageUnavailable)
	s.Fail(nil)
	assert.NoError(t, s.Set(ctx, "k", nil))
}
