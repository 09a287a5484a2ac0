package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection token bucket: limit frames per window, refilled continuously.
type RateLimiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	limit  float64
	rate   float64 // tokens per nanosecond
}

// NewRateLimiter falls back to the package defaults when limit or window is not positive.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		tokens: float64(limit),
		limit:  float64(limit),
		rate:   float64(limit) / float64(window),
	}
}

// Allow consumes one token at now.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.last.IsZero() && now.After(r.last) {
		r.tokens += float64(now.Sub(r.last)) * r.rate
		if r.tokens > r.limit {
			r.tokens = r.limit
		}
	}
	if r.last.IsZero() || now.After(r.last) {
		r.last = now
	}

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}
