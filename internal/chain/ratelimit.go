package chain

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default provider request budget.
const (
	DefaultRatePerSecond = 5
	DefaultBurst         = 10
)

// RateLimiter throttles provider requests with one token bucket per endpoint
// group. Discovery workers scanning different chain codes share the buckets,
// so the configured budget holds for the whole recovery.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter allowing ratePerSecond requests per
// endpoint group with the given burst. A non-positive rate disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// DefaultRateLimiter returns a rate limiter with the default budget.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(DefaultRatePerSecond, DefaultBurst)
}

// Allow reports whether a request to the endpoint group may proceed now.
func (r *RateLimiter) Allow(endpoint string) bool {
	return r.limiterFor(endpoint).Allow()
}

// Wait blocks until a request to the endpoint group is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	return r.limiterFor(endpoint).Wait(ctx)
}

func (r *RateLimiter) limiterFor(endpoint string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[endpoint]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[endpoint]; ok {
		return l
	}
	l = rate.NewLimiter(r.limit, r.burst)
	r.limiters[endpoint] = l
	return l
}
