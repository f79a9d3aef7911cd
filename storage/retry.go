package storage

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// retryState is the explicit state of the bounded upload retry machine.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateSucceeded
	stateExhausted
)

// retrier executes an operation up to maxAttempts times with exponential
// backoff (baseDelay doubling after each failed attempt). The clock is
// injected so tests drive the backoff waits with a mock instead of
// sleeping for real.
type retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	clock       clock.Clock
}

func newRetrier(maxAttempts int, baseDelay time.Duration, clk clock.Clock) *retrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &retrier{maxAttempts: maxAttempts, baseDelay: baseDelay, clock: clk}
}

// do runs op until it succeeds, the attempt budget is exhausted, or the
// context is cancelled during a backoff wait. Cancellation is observed
// between attempts, never swallowed; a cancelled wait returns ctx.Err().
// On exhaustion the last attempt's error is returned unchanged.
func (r *retrier) do(ctx context.Context, op func(attempt int) error) error {
	state := stateAttempting
	attempt := 1
	delay := r.baseDelay
	var lastErr error

	for {
		switch state {
		case stateAttempting:
			lastErr = op(attempt)
			switch {
			case lastErr == nil:
				state = stateSucceeded
			case attempt >= r.maxAttempts:
				state = stateExhausted
			default:
				state = stateBackoff
			}

		case stateBackoff:
			timer := r.clock.Timer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			attempt++
			state = stateAttempting

		case stateSucceeded:
			return nil

		case stateExhausted:
			return lastErr
		}
	}
}
