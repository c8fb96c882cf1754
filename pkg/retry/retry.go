// Package retry provides the bounded-retry-with-backoff policy shared by
// the fetch and notification paths, so the two never drift apart.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff: BaseDelay doubles per
// attempt up to MaxDelay, for at most MaxAttempts attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the monitor defaults: 3 attempts, 2s base, 30s cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Do runs op until it succeeds, the error classifier reports a permanent
// error, attempts are exhausted, or the context is done. The classifier
// may be nil, in which case every error is considered retryable. The last
// error is returned on failure.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := p.wait(ctx, attempt-1); werr != nil {
				return werr
			}
		}

		if err = op(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// wait sleeps for the backoff delay of the given attempt, honoring
// context cancellation.
func (p Policy) wait(ctx context.Context, attempt int) error {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	delay <<= attempt
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
