// Package resilience provides the retry primitive guarding the LLM backend.
//
// The central type is [Retrier], a fixed-schedule retry loop used by the note
// generation pipeline. Each invocation is independent: there is no breaker or
// other state shared across calls, so one failing visit never affects the
// next.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDelays is the pause schedule between generation attempts. The
// schedule is intentionally short: a clinician is waiting on the result, so
// there is no point in long exponential backoff.
var DefaultDelays = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// ExhaustedError is returned by [Retrier.Do] when every attempt failed. It
// wraps the error of the final attempt.
type ExhaustedError struct {
	// Attempts is the number of attempts that were made.
	Attempts int

	// Err is the error from the last attempt.
	Err error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retrier re-runs an operation on failure with fixed pauses between
// attempts. The zero value is not usable; construct with [NewRetrier].
type Retrier struct {
	maxAttempts int
	delays      []time.Duration

	// sleep is swapped out in tests so schedules run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a [Retrier].
type Option func(*Retrier)

// WithSleep replaces the pause implementation. Tests use this to run retry
// schedules without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// NewRetrier creates a Retrier making up to maxAttempts attempts, pausing
// delays[i] after failed attempt i. When the schedule is shorter than the
// attempt count, the last delay repeats. Non-positive maxAttempts defaults
// to 3 and an empty schedule defaults to [DefaultDelays].
func NewRetrier(maxAttempts int, delays []time.Duration, opts ...Option) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	r := &Retrier{
		maxAttempts: maxAttempts,
		delays:      delays,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. fn receives the 1-based attempt number. On exhaustion the last
// error is returned wrapped in [*ExhaustedError]; a context error is
// returned as-is.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == r.maxAttempts {
			break
		}
		slog.Warn("attempt failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"error", lastErr)
		if err := r.sleep(ctx, r.delayFor(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: r.maxAttempts, Err: lastErr}
}

// delayFor returns the pause after the given 1-based failed attempt.
func (r *Retrier) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(r.delays) {
		idx = len(r.delays) - 1
	}
	return r.delays[idx]
}

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
