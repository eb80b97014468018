package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Each runs action for every item with at most limit goroutines in flight.
// The first error cancels the context handed to the remaining actions and is
// returned once all of them have finished. limit <= 0 means unbounded.
func Each[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for _, item := range items {
		group.Go(func() error {
			return action(groupCtx, item)
		})
	}
	return group.Wait()
}

// Collect is Each that keeps every result and error by position; one failure
// does not stop the others.
func Collect[T any, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for idx, item := range items {
		group.Go(func() error {
			results[idx], errs[idx] = fn(ctx, item)
			return nil
		})
	}
	_ = group.Wait()
	return results, errs
}
