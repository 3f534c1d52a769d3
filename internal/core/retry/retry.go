// Package retry implements bounded retry with exponential backoff, shared by
// adapters that talk to flaky external tools.
package retry

import (
	"context"
	"time"
)

// Policy bounds the retry loop. Attempts counts total tries, not re-tries;
// Attempts <= 1 means a single try with no retry.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Do runs op up to p.Attempts times, sleeping with exponential backoff
// between tries. retryable decides whether an error is worth another try;
// a nil retryable treats every error as retryable. Context cancellation
// aborts the wait and returns the context error.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt - 1)):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
