// Package ratelimit provides the token-bucket limiter used to self-throttle
// the device catalog's refresh calls. Trimmed from the teacher's broader
// pkg/ratelimit, which also carried Redis-distributed, sliding-window,
// tiered, and gin-middleware limiters for HTTP/login endpoints this service
// does not have — see DESIGN.md for the per-piece justification.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is the minimal interface the catalog depends on.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() rate.Limit
	Burst() int
}

// TokenBucketLimiter wraps golang.org/x/time/rate.Limiter.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter builds a limiter allowing one token every
// 1/eventsPerSecond, with the given burst. eventsPerSecond may be
// fractional (e.g. 1.0/30 for "once per 30 seconds").
func NewTokenBucketLimiter(eventsPerSecond float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
}

func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter.Allow(), nil
}

func (l *TokenBucketLimiter) Limit() rate.Limit {
	return l.limiter.Limit()
}

func (l *TokenBucketLimiter) Burst() int {
	return l.limiter.Burst()
}
