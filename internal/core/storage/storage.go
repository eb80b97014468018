// Package storage is the byte-oriented persistence boundary. Backends report
// failures as errs.ErrStorageUnavailable or errs.ErrQuotaExceeded; a missing
// key is errs.ErrNotFound.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/zeusync/crdtsync/internal/core/errs"
)

type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order; "" lists all.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
	// GetBatch omits absent keys from the result.
	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)
	// SetBatch writes all entries atomically where the backend allows it.
	SetBatch(ctx context.Context, entries map[string][]byte) error
	Close() error
}

var ErrNotFound = errs.ErrNotFound

func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

// Unavailable wraps a backend failure as retryable.
func Unavailable(op string, cause error) error {
	return errs.New(errs.CodeStorageUnavailable, op, cause)
}

func QuotaExceeded(op string, cause error) error {
	return errs.New(errs.CodeQuotaExceeded, op, cause)
}

// Key joins path segments with '/'.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
