// Package retry implements bounded retry with exponential backoff and
// optional jitter, selective by error class.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures retry behavior. The zero value is not usable; use
// DefaultPolicy or construct one explicitly.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
	Jitter       bool

	// Retryable decides whether an error is worth another attempt.
	// Errors it rejects propagate immediately without consuming a retry.
	Retryable func(error) bool

	// Sleep suspends between attempts. Defaults to a context-aware
	// timer sleep; tests inject a recorder here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the tuning used for agent invocations: three
// attempts, 1s initial delay doubling up to 60s, jitter on.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2.0,
		Jitter:       true,
		Retryable:    retryable,
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoValue runs fn up to p.MaxAttempts times, sleeping between failed
// attempts. The delay sequence is initial, initial*base, initial*base^2, ...
// capped at MaxDelay; with jitter enabled each sleep is scaled by a uniform
// factor in [0.5, 1.0). The last attempt's error propagates unchanged.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		actual := delay
		if p.Jitter {
			actual = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		if err := sleep(ctx, actual); err != nil {
			return zero, err
		}

		delay = time.Duration(float64(delay) * p.Base)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return zero, lastErr
}

// Do is the value-less adapter over DoValue.
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Outcome carries the result of an asynchronous retried call.
type Outcome[T any] struct {
	Value T
	Err   error
}

// GoValue runs DoValue on a new goroutine and delivers the outcome on the
// returned channel. The channel is buffered so the goroutine never blocks
// on an abandoned caller.
func GoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		v, err := DoValue(ctx, p, fn)
		ch <- Outcome[T]{Value: v, Err: err}
	}()
	return ch
}
