package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// ErrUnknown stands in for failures that carry no error value.
var ErrUnknown = errors.New("Unknown error")

// Policy bounds a retried operation.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable decides whether a failure is worth another attempt. Nil
	// retries every failure.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts with 1s and 2s between them.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy  Policy
	sleep   SleepFunc
	onRetry func(op string, attempt int, err error, wait time.Duration)
}

type RetrierOption func(*Retrier)

func WithSleep(sleep SleepFunc) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRetryHook observes every failed attempt that will be retried.
func WithRetryHook(hook func(op string, attempt int, err error, wait time.Duration)) RetrierOption {
	return func(r *Retrier) { r.onRetry = hook }
}

func NewRetrier(policy Policy, opts ...RetrierOption) *Retrier {
	def := DefaultPolicy()
	if policy.Attempts <= 0 {
		policy.Attempts = def.Attempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	r := &Retrier{policy: policy, sleep: SleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.policy.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, a failure is not retryable, or the attempts
// run out. Exhaustion yields an *ExhaustedError.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := r.newBackOff()
	var last error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		last = call(ctx, fn)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.policy.Retryable != nil && !r.policy.Retryable(last) {
			return last
		}
		if attempt == r.policy.Attempts {
			break
		}
		wait := b.NextBackOff()
		if r.onRetry != nil {
			r.onRetry(op, attempt, last, wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return &ExhaustedError{Op: op, Attempts: r.policy.Attempts, Last: last}
}

// call converts panics into errors so a misbehaving provider counts as a
// failed attempt.
func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = recErr
				return
			}
			err = ErrUnknown
		}
	}()
	return fn(ctx)
}
