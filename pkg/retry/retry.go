// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/nedaZarei/PagesDeployService/pkg/apperrors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The n-th wait is BaseDelay * Multiplier^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Sleep overrides the wait between attempts; tests use it to record delays.
	Sleep SleepFunc

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delays returns the waits the policy inserts between its attempts.
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.BaseDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return delays
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempts
// run out. fn receives the 1-based attempt number. The last error is returned
// wrapped with ErrMaxRetriesExceeded when every attempt failed.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()
	delays := p.Delays()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		delay := delays[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return apperrors.Wrapf(apperrors.ErrMaxRetriesExceeded, "after %d attempts: %v", p.MaxAttempts, lastErr)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
