package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/storage"
	"github.com/zeusync/crdtsync/internal/core/storage/memory"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

type flaky struct {
	storage.Storage
	failures int
}

func (f *flaky) Set(ctx context.Context, key string, value []byte) error {
	if f.failures > 0 {
		f.failures--
		return storage.Unavailable("flaky", errs.ErrStorageUnavailable)
	}
	return f.Storage.Set(ctx, key, value)
}

var fast = concurrent.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 4}

func TestRetryRecovers(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Storage: memory.New(0), failures: 2}
	retries := 0
	s := storage.WithRetry(inner, fast, log.Nop())
	s.OnRetry(func(string) { retries++ })

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	assert.Equal(t, 2, retries)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestRetryGivesUp(t *testing.T) {
	inner := &flaky{Storage: memory.New(0), failures: 10}
	s := storage.WithRetry(inner, fast, log.Nop())
	err := s.Set(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, errs.ErrStorageUnavailable)
	assert.Equal(t, 6, inner.failures)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	retries := 0
	s := storage.WithRetry(memory.New(0), fast, log.Nop())
	s.OnRetry(func(string) { retries++ })
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, storage.IsNotFound(err))
	assert.Zero(t, retries)
}
