// Package ratelimiter throttles session I/O with a token bucket.
//
// One token is one byte. Exports hold one limiter for reads and one for
// writes; a nil *RateLimiter never throttles.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a byte-rate token bucket built on golang.org/x/time/rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing bytesPerSecond sustained and burst bytes
// at once. A zero rate returns nil, meaning unlimited. A burst smaller
// than the rate is raised to the rate.
func New(bytesPerSecond, burst uint64) *RateLimiter {
	if bytesPerSecond == 0 {
		return nil
	}
	burst = max(burst, bytesPerSecond)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))}
}

// WaitN blocks until n bytes may pass or ctx is done.
//
// Requests larger than the burst are split into burst-sized waits, so any
// size can be throttled.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil || n <= 0 {
		return nil
	}
	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// AllowN reports whether n bytes may pass now, consuming them if so.
func (r *RateLimiter) AllowN(n int) bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// SetLimit changes the sustained rate. The burst is raised to the new
// rate if it is smaller.
func (r *RateLimiter) SetLimit(bytesPerSecond uint64) {
	if r == nil || bytesPerSecond == 0 {
		return
	}
	r.limiter.SetLimit(rate.Limit(bytesPerSecond))
	if uint64(r.limiter.Burst()) < bytesPerSecond {
		r.limiter.SetBurst(int(bytesPerSecond))
	}
}

// Limit returns the sustained rate in bytes per second (0 = unlimited).
func (r *RateLimiter) Limit() uint64 {
	if r == nil {
		return 0
	}
	return uint64(r.limiter.Limit())
}

// Burst returns the bucket size in bytes.
func (r *RateLimiter) Burst() int {
	if r == nil {
		return 0
	}
	return r.limiter.Burst()
}
