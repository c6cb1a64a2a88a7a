// rate_limiter.go - Rate limiting to avoid hitting remote provider limits

package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every call to one remote provider.
type Limiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter that allows burst requests at once and
// refills one token every interval.
func NewRateLimiter(burst int, interval time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

// DefaultGeminiLimiter keeps about 12 requests per minute, which stays under
// the free-tier quota with room for retries.
func DefaultGeminiLimiter() *Limiter {
	return NewRateLimiter(12, 5*time.Second)
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
