package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantRetrier returns a 3-attempt retrier that records requested delays
// instead of sleeping.
func instantRetrier(delays *[]time.Duration) *Retrier {
	r := NewRetrier(3, nil)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return r
}

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	r := instantRetrier(&delays)

	calls := 0
	err := r.Do(context.Background(), "generate", func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(delays) != 0 {
		t.Errorf("slept %v, want no sleeps on immediate success", delays)
	}
}

func TestRetrier_RecoversAfterFailures(t *testing.T) {
	var delays []time.Duration
	r := instantRetrier(&delays)

	calls := 0
	err := r.Do(context.Background(), "generate", func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetrier_Exhaustion(t *testing.T) {
	var delays []time.Duration
	r := instantRetrier(&delays)

	lastErr := errors.New("backend down")
	err := r.Do(context.Background(), "generate", func(ctx context.Context, attempt int) error {
		return lastErr
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, lastErr) {
		t.Error("last attempt error not wrapped")
	}
	// No sleep after the final attempt.
	if len(delays) != 2 {
		t.Errorf("slept %d times, want 2", len(delays))
	}
}

func TestRetrier_ContextCancellation(t *testing.T) {
	r := NewRetrier(3, nil)
	r.sleep = sleepCtx // real sleep, cancelled below

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while the retrier is sleeping after the first failure.
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "generate", func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no attempt after cancellation)", calls)
	}
}

func TestRetrier_DelayScheduleRepeatsLast(t *testing.T) {
	var delays []time.Duration
	r := NewRetrier(4, []time.Duration{time.Second})
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	r.Do(context.Background(), "generate", func(ctx context.Context, attempt int) error {
		return errors.New("always")
	})
	for i, d := range delays {
		if d != time.Second {
			t.Errorf("delay %d = %v, want 1s", i, d)
		}
	}
	if len(delays) != 3 {
		t.Errorf("slept %d times, want 3", len(delays))
	}
}
