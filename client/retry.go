package client

import (
	"context"
	"time"

	"github.com/cenk/backoff"
)

// RetryPolicy describes the backoff schedule for transient failures.
// Intervals double without jitter from InitialInterval up to MaxInterval.
// Retrying stops once MaxElapsedTime has passed or, when MaxRetries is
// positive, after that many retries.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      int

	// Notify, if set, is called before each wait.
	Notify func(err error, wait time.Duration)
}

// DefaultRetryPolicy waits 1s, 2s, 4s, 8s and then 10s between attempts for
// up to five minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: -1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxRetries < 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.Reset()

	var bo backoff.BackOff = b
	if p.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// Retry runs op until it succeeds, fails with an error that retryable
// rejects, or the policy gives up. The last error is returned.
// A nil retryable defaults to IsRetryable.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, op func() error) error {
	if retryable == nil {
		retryable = IsRetryable
	}
	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), p.Notify)
}
