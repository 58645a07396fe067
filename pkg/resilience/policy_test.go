package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")
var errOther = errors.New("other")

func TestExecute_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Execute(context.Background(), RetryPolicy{MaxAttempts: 3}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 1}
	err := Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
	err := Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestExecute_UnboundedRetriesUntilContextCancelled(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 0, InitialDelay: time.Millisecond, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	err := Execute(ctx, policy, func(ctx context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestExecute_NonRetryableErrorStopsImmediately(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    time.Millisecond,
		Multiplier:      1,
		RetryableErrors: []error{errBoom},
	}
	err := Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errOther
	})
	assert.ErrorIs(t, err, errOther)
	assert.Equal(t, 1, calls)
}

func TestExecute_OnAttemptErrorHookInvokedPerFailure(t *testing.T) {
	var attempts []int
	policy := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		OnAttemptError: func(attempt int, err error) {
			attempts = append(attempts, attempt)
		},
	}
	_ = Execute(context.Background(), policy, func(ctx context.Context) error {
		return errBoom
	})
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestExecute_AlreadyCancelledContextReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Execute(ctx, RetryPolicy{MaxAttempts: 3}, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestExecuteWithResult_ReturnsValueOnEventualSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
	result, err := ExecuteWithResult(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errBoom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestExecuteWithResult_ReturnsLastValueOnFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1}
	result, err := ExecuteWithResult(context.Background(), policy, func(ctx context.Context) (string, error) {
		return "partial", errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "partial", result)
}

func TestDelayFor_CapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, policy.delayFor(0))
	assert.Equal(t, 2*time.Second, policy.delayFor(1))
	assert.Equal(t, 4*time.Second, policy.delayFor(2))
	assert.Equal(t, 5*time.Second, policy.delayFor(3))
}

func TestIsRetryable_EmptyAllowlistAcceptsEverything(t *testing.T) {
	var policy RetryPolicy
	assert.True(t, policy.isRetryable(errBoom))
	assert.True(t, policy.isRetryable(errOther))
}

func TestDefaultRetryPolicy_IsUnboundedCappedExponential(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, 0, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.InitialDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.Equal(t, 60*time.Second, policy.MaxDelay)
}
