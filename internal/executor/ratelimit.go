package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited throttles how often the wrapped executor is invoked.
type RateLimited struct {
	inner   Executor
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute invocations per minute with a burst of one.
// A non-positive perMinute disables throttling.
func NewRateLimited(inner Executor, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(limit, 1)}
}

// Execute waits for a token, then delegates.
func (r *RateLimited) Execute(ctx context.Context, description string) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Execute(ctx, description)
}
