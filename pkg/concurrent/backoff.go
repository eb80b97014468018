package concurrent

import (
	"context"
	"time"
)

// Backoff is an exponential delay schedule with a cap and an attempt bound.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// Delay returns the wait before attempt n (0-based) and whether attempt n is
// still allowed.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	if attempt == 0 {
		return 0, true
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max, true
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max, true
	}
	return time.Duration(d), true
}

// Retry runs op until it succeeds, returns an error retryable rejects, the
// schedule runs out, or ctx ends. onRetry, when set, sees every failed attempt
// that will be retried.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, onRetry func(attempt int, err error), op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		delay, ok := b.Delay(attempt)
		if !ok {
			return err
		}
		if delay > 0 {
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err = op(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
