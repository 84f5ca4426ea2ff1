package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleep struct {
	waits []time.Duration
}

func (r *recordedSleep) Sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestRetrierSucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &recordedSleep{}
	r := NewRetrier(DefaultPolicy(), WithSleep(sleeper.Sleep))

	calls := 0
	err := r.Do(context.Background(), "embed", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("upstream flaked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestRetrierExhaustion(t *testing.T) {
	sleeper := &recordedSleep{}
	var hooked []int
	r := NewRetrier(DefaultPolicy(), WithSleep(sleeper.Sleep), WithRetryHook(func(_ string, attempt int, _ error, _ time.Duration) {
		hooked = append(hooked, attempt)
	}))

	calls := 0
	boom := errors.New("rate limited")
	err := r.Do(context.Background(), "embed", func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.ErrorIs(t, err, boom)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []int{1, 2}, hooked)
}

func TestRetrierNormalizesNonErrorPanics(t *testing.T) {
	r := NewRetrier(DefaultPolicy(), WithSleep((&recordedSleep{}).Sleep))
	err := r.Do(context.Background(), "embed", func(context.Context) error {
		panic("not an error value")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown error")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestRetrierStopsOnNonRetryable(t *testing.T) {
	policy := DefaultPolicy()
	policy.Retryable = IsRetryable
	r := NewRetrier(policy, WithSleep((&recordedSleep{}).Sleep))

	calls := 0
	err := r.Do(context.Background(), "put", func(context.Context) error {
		calls++
		return &StatusError{Op: "put", StatusCode: 422}
	})

	assert.Equal(t, 1, calls)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetrierHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultPolicy())

	calls := 0
	err := r.Do(ctx, "embed", func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
