package queue

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 5 * time.Second
)

// RetryPolicy bounds how many times a job handler runs and how long the
// worker waits between runs.
type RetryPolicy struct {
	MaxAttempts int           `validate:"gte=1,lte=20"`
	Base        time.Duration `validate:"gt=0"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Base: DefaultBackoff}
}

// Delays returns the wait before each retry: Base, 2*Base, 4*Base and so on,
// one entry less than MaxAttempts.
func (p RetryPolicy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.Base
	schedule.RandomizationFactor = 0
	schedule.Multiplier = 2
	schedule.MaxInterval = time.Duration(math.MaxInt64)
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for range p.MaxAttempts - 1 {
		delays = append(delays, schedule.NextBackOff())
	}

	return delays
}
