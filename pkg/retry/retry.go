// Package retry runs a single outbound call again on transient failure.
// Delivery-level retry is the queue's job; this package only smooths over
// short blips inside one delivery attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// fatalError marks a failure that no amount of retrying can fix, such as a
// rejected credential or a malformed payload.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// NewFatalError stops Retry immediately and tells the delivery worker the
// entry should be dead-lettered rather than requeued.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, is marked fatal.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsedTime bounds the whole call including pauses. Zero means no
	// bound beyond MaxAttempts.
	MaxElapsedTime time.Duration
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback calls fn until it succeeds, returns a fatal error, or the
// policy is exhausted. onRetry runs before each pause with the attempt that
// just failed and the pause about to be taken.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, next time.Duration) {
			onRetry(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}
