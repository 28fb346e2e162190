package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff and jitter
// between attempts. Queue-full rejections are surfaced immediately so
// backpressure reaches the caller instead of being absorbed here.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || errors.Is(err, ErrQueueFull) || errors.Is(err, context.Canceled) {
			return err
		}
		if i == attempts-1 {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
