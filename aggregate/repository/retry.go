package repository

import (
	"context"
	"math/rand"
	"time"
)

// A RetryTrigger delays the next attempt of a Save that failed with a false
// concurrency conflict. Wait is called with the number of the failed attempt
// and returns early with ctx.Err() if ctx is canceled.
type RetryTrigger interface {
	Wait(ctx context.Context, attempt int) error
}

// RetryTriggerFunc allows a function to be used as a RetryTrigger.
type RetryTriggerFunc func(ctx context.Context, attempt int) error

// Wait returns fn(ctx, attempt).
func (fn RetryTriggerFunc) Wait(ctx context.Context, attempt int) error { return fn(ctx, attempt) }

// RetryEvery returns a RetryTrigger that waits interval between attempts.
func RetryEvery(interval time.Duration) RetryTrigger {
	return RetryTriggerFunc(func(ctx context.Context, _ int) error {
		return sleep(ctx, interval)
	})
}

// RetryApprox returns a RetryTrigger that waits approximately interval
// between attempts. The provided deviation is used to randomize the interval.
// If the interval is 1s and deviation is 100ms, then the retry is triggered
// after somewhere between 900ms to 1100ms.
func RetryApprox(interval, deviation time.Duration) RetryTrigger {
	return RetryTriggerFunc(func(ctx context.Context, _ int) error {
		sign := 1
		if rand.Intn(2) == 0 {
			sign = -1
		}

		perc := rand.Intn(101)

		dev := deviation * time.Duration(perc) * time.Duration(sign) / 100
		return sleep(ctx, interval+dev)
	})
}

// RetryExponential returns a RetryTrigger that waits base * 2^(attempt-1)
// between attempts, capped at limit.
func RetryExponential(base, limit time.Duration) RetryTrigger {
	return RetryTriggerFunc(func(ctx context.Context, attempt int) error {
		d := base
		for i := 1; i < attempt && d < limit; i++ {
			d *= 2
		}
		if d > limit {
			d = limit
		}
		return sleep(ctx, d)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
