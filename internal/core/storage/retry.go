package storage

import (
	"context"
	"time"

	"github.com/zeusync/crdtsync/internal/core/errs"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/pkg/concurrent"
)

func DefaultRetry() concurrent.Backoff {
	return concurrent.Backoff{
		Initial:     50 * time.Millisecond,
		Max:         2 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
}

// Retrying decorates a Storage so retryable failures are retried with backoff.
// Not-found and other non-retryable results return immediately.
type Retrying struct {
	Storage
	backoff concurrent.Backoff
	logger  log.Log
	onRetry func(op string)
}

func WithRetry(s Storage, backoff concurrent.Backoff, logger log.Log) *Retrying {
	return &Retrying{Storage: s, backoff: backoff, logger: logger.With(log.Component("storage"))}
}

// OnRetry registers a hook called before every retried operation.
func (r *Retrying) OnRetry(fn func(op string)) {
	r.onRetry = fn
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	err := concurrent.Retry(ctx, r.backoff, errs.IsRetryable, func(attempt int, err error) {
		r.logger.Warn("storage operation failed, retrying",
			log.String("op", op), log.String("key", key), log.Int("attempt", attempt+1), log.Error(err))
		if r.onRetry != nil {
			r.onRetry(op)
		}
	}, fn)
	if err != nil && errs.IsRetryable(err) {
		r.logger.Error("storage operation gave up", log.String("op", op), log.String("key", key), log.Error(err))
	}
	return err
}

func (r *Retrying) Get(ctx context.Context, key string) (value []byte, err error) {
	err = r.do(ctx, "get", key, func(ctx context.Context) error {
		value, err = r.Storage.Get(ctx, key)
		return err
	})
	return value, err
}

func (r *Retrying) Set(ctx context.Context, key string, value []byte) error {
	return r.do(ctx, "set", key, func(ctx context.Context) error {
		return r.Storage.Set(ctx, key, value)
	})
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func(ctx context.Context) error {
		return r.Storage.Delete(ctx, key)
	})
}

func (r *Retrying) Keys(ctx context.Context, prefix string) (keys []string, err error) {
	err = r.do(ctx, "keys", prefix, func(ctx context.Context) error {
		keys, err = r.Storage.Keys(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *Retrying) GetBatch(ctx context.Context, keys []string) (values map[string][]byte, err error) {
	err = r.do(ctx, "get_batch", "", func(ctx context.Context) error {
		values, err = r.Storage.GetBatch(ctx, keys)
		return err
	})
	return values, err
}

func (r *Retrying) SetBatch(ctx context.Context, entries map[string][]byte) error {
	return r.do(ctx, "set_batch", "", func(ctx context.Context) error {
		return r.Storage.SetBatch(ctx, entries)
	})
}
