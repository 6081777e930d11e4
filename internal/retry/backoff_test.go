package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/quantfleet/types"
)

func fastPolicy(max int) *Policy {
	return &Policy{
		MaxRetries:   max,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SucceedsAfterRetryableFailures(t *testing.T) {
	r := New(fastPolicy(3), nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrStoreUnavailable, "redis down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_NonRetryableReturnsImmediately(t *testing.T) {
	r := New(fastPolicy(5), nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrValidation, "bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestRetryer_PlainErrorsNotRetried(t *testing.T) {
	r := New(fastPolicy(5), nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("unclassified")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_Exhaustion(t *testing.T) {
	r := New(fastPolicy(2), nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrStoreUnavailable, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, types.ErrStoreUnavailable, types.CodeOf(err))
}

func TestRetryer_ContextCancellation(t *testing.T) {
	r := New(&Policy{MaxRetries: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		return types.NewError(types.ErrStoreUnavailable, "down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	p := fastPolicy(2)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := New(p, nil)

	_ = r.Do(context.Background(), func() error {
		return types.NewError(types.ErrTimeout, "slow")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}
