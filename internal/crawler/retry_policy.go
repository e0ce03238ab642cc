package crawler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy retries a failed page read with jittered exponential backoff.
// The zero value behaves like PageRetry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PageRetry reads a page at most twice.
var PageRetry = RetryPolicy{
	MaxAttempts: 2,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = PageRetry.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = PageRetry.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = PageRetry.MaxDelay
	}
	return p
}

// ShouldRetry decides whether the error is retryable after attempt tries.
// Fetch failures are always retried, including per-request timeouts and
// refused connections. Do stops on its own once the job context ends.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	p = p.withDefaults()
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, ErrTransientFetch) {
		return true
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the wait before the attempt following attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	if half <= 0 {
		return 0
	}
	return half + rand.N(half)
}

// Do runs op until it succeeds, the policy gives up or ctx ends. onError, if
// set, sees every failed attempt. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error, onError func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if onError != nil {
			onError(attempt, err)
		}
		if ctx.Err() != nil || !p.ShouldRetry(err, attempt) {
			return err
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
