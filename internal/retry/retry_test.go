package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep collects requested delays without actually sleeping.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

var errTransient = errors.New("transient")

func TestDoValue_SucceedsOnKthAttempt(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Base:         2.0,
		Sleep:        recordingSleep(&delays),
	}

	calls := 0
	v, err := DoValue(context.Background(), p, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDoValue_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Base:         2.0,
		Sleep:        recordingSleep(&delays),
	}

	calls := 0
	_, err := DoValue(context.Background(), p, func() (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
	// No sleep after the final attempt.
	assert.Len(t, delays, 3)
}

func TestDoValue_DelaySequenceWithoutJitter(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Base:         2.0,
		Jitter:       false,
		Sleep:        recordingSleep(&delays),
	}

	_, _ = DoValue(context.Background(), p, func() (int, error) {
		return 0, errTransient
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // capped
		500 * time.Millisecond,
	}
	assert.Equal(t, want, delays)
}

func TestDoValue_JitterScalesDelay(t *testing.T) {
	var delays []time.Duration
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Base:         2.0,
		Jitter:       true,
		Sleep:        recordingSleep(&delays),
	}

	_, _ = DoValue(context.Background(), p, func() (int, error) {
		return 0, errTransient
	})

	require.Len(t, delays, 2)
	// First scheduled delay is 100ms, jittered into [50ms, 100ms).
	assert.GreaterOrEqual(t, delays[0], 50*time.Millisecond)
	assert.Less(t, delays[0], 100*time.Millisecond)
	// Second scheduled delay is 200ms, jittered into [100ms, 200ms).
	assert.GreaterOrEqual(t, delays[1], 100*time.Millisecond)
	assert.Less(t, delays[1], 200*time.Millisecond)
}

func TestDoValue_NonRetryablePropagatesImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	var delays []time.Duration
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Base:         2.0,
		Retryable:    func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:        recordingSleep(&delays),
	}

	calls := 0
	_, err := DoValue(context.Background(), p, func() (int, error) {
		calls++
		return 0, fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoValue_ContextCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Base:         2.0,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := DoValue(ctx, p, func() (int, error) {
		return 0, errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGoValue_DeliversOutcome(t *testing.T) {
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Base:         2.0,
	}

	calls := 0
	ch := GoValue(context.Background(), p, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "async", nil
	})

	out := <-ch
	require.NoError(t, out.Err)
	assert.Equal(t, "async", out.Value)
	assert.Equal(t, 2, calls)
}

func TestDo_WrapsDoValue(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Base: 2.0,
		Sleep: func(context.Context, time.Duration) error { return nil }}

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
