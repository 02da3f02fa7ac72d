package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// FailureBackoff is the pause schedule a delivery worker uses between
// consecutive failed deliveries. It never returns backoff.Stop. A zero
// initial interval disables pausing.
func FailureBackoff(initialInterval, maxInterval time.Duration) backoff.BackOff {
	if initialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if maxInterval < initialInterval {
		maxInterval = initialInterval
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.RandomizationFactor = 0
	exp.Multiplier = 2.0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}
