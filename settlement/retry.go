package settlement

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/metrics"
)

const (
	phaseVerify = metrics.PhaseVerify
	phaseSettle = metrics.PhaseSettle
)

// IsRetryable reports whether a failed facilitator attempt may be retried.
//
// Protocol violations, declines and invalid proofs are final. Errors exposing
// Timeout() bool are retried. Errors exposing StatusCode() int are retried at
// 5xx and final at 4xx. Anything else is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, x402.ErrProtocolCompatibility) ||
		errors.Is(err, x402.ErrVerificationDeclined) ||
		errors.Is(err, x402.ErrSettlementProofInvalid) {
		return false
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		code := status.StatusCode()
		switch {
		case code >= 500:
			return true
		case code >= 400:
			return false
		}
	}
	return true
}

// BackoffDelay returns the wait after the given 1-based failed attempt.
// jitter draws from [0, max]; nil disables jitter.
func BackoffDelay(policy RetryPolicy, attempt int, jitter func(max time.Duration) time.Duration) time.Duration {
	if policy.Backoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	shift := attempt - 1
	if shift >= 62 || policy.Backoff > time.Duration(math.MaxInt64>>shift) {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = policy.Backoff << shift
	}
	if policy.Jitter > 0 && jitter != nil {
		if extra := jitter(policy.Jitter); delay <= time.Duration(math.MaxInt64)-extra {
			delay += extra
		}
	}
	return delay
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

// callWithTimeout runs call in its own goroutine and races it against the
// attempt deadline. The buffered channel lets a late call finish without
// blocking after the deadline wins.
func callWithTimeout[T any](ctx context.Context, phase string, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := call(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	var zero T
	timedOut := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &x402.TimeoutError{Operation: "facilitator " + phase, After: timeout}
	}

	select {
	case res := <-done:
		// A call that gave up on our deadline reports the timeout itself
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
			return timedOut()
		}
		return res.value, res.err
	case <-attemptCtx.Done():
		return timedOut()
	}
}

// callWithRetry runs call under policy. A nil policy means one attempt
// bounded only by ctx.
func callWithRetry[T any](ctx context.Context, e *Engine, phase string, policy *RetryPolicy, call func(context.Context) (T, error)) (T, error) {
	if policy == nil {
		start := time.Now()
		value, err := call(ctx)
		recordAttempt(phase, err, time.Since(start))
		return value, err
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		start := time.Now()
		value, err := callWithTimeout(ctx, phase, policy.Timeout, call)
		recordAttempt(phase, err, time.Since(start))
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts || !IsRetryable(err) || ctx.Err() != nil {
			return zero, err
		}

		delay := BackoffDelay(*policy, attempt, e.jitter)
		e.logger.WarnContext(ctx, "facilitator call failed, retrying",
			"phase", phase,
			"attempt", attempt,
			"maxAttempts", policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		metrics.RecordFacilitatorRetry(phase)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func recordAttempt(phase string, err error, elapsed time.Duration) {
	status := metrics.StatusSuccess
	var timeout *x402.TimeoutError
	switch {
	case errors.As(err, &timeout):
		status = metrics.StatusTimeout
	case err != nil:
		status = metrics.StatusError
	}
	metrics.RecordFacilitatorCall(phase, status, elapsed.Seconds())
}
