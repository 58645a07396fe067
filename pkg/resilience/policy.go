package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is a first-class, reusable retry specification attached to an
// operation, rather than a control-flow decorator around one call site.
// Beyond attempts and capped exponential backoff it carries two things the
// coordination client needs: an unbounded-attempts mode and a hook that
// runs once per failed attempt (for logging, metrics, or error-specific
// handling) independent of whether the error is retryable.
type RetryPolicy struct {
	// MaxAttempts bounds the number of tries. Zero means unbounded — retry
	// forever, the mode the coordination client's session/backoff contract
	// requires (spec §4.1: "bounded exponential backoff... unbounded
	// attempts").
	MaxAttempts int

	InitialDelay      time.Duration
	Multiplier        float64
	MaxDelay          time.Duration

	// RetryableErrors allowlists specific errors; an error retried by policy
	// must match one of these via errors.Is, when the list is non-empty. A
	// nil/empty list means every error returned by the operation is
	// retryable, which is the coordination client's default.
	RetryableErrors []error

	// OnAttemptError, if set, is invoked after each failed attempt with the
	// attempt index (0-based) and the error, before the backoff sleep. It
	// never affects whether a retry happens.
	OnAttemptError func(attempt int, err error)
}

// DefaultRetryPolicy returns the capped-exponential, unbounded-attempt
// policy spec §4.1 and §9 specify for coordination operations: initial 1s,
// ×2, cap 60s, retry forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}
}

func (p RetryPolicy) isRetryable(err error) bool {
	if len(p.RetryableErrors) == 0 {
		return true
	}
	for _, candidate := range p.RetryableErrors {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Execute runs op under policy, retrying on every allowlisted error with
// capped exponential backoff until op succeeds, ctx is cancelled, an error
// falls outside the allowlist, or MaxAttempts is exhausted (when nonzero).
func Execute(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if policy.OnAttemptError != nil {
			policy.OnAttemptError(attempt, err)
		}

		if !policy.isRetryable(err) {
			return err
		}

		if policy.MaxAttempts > 0 && attempt+1 >= policy.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.delayFor(attempt)):
		}
	}
}

// ExecuteWithResult is Execute for operations that return a value alongside
// an error.
func ExecuteWithResult[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Execute(ctx, policy, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
