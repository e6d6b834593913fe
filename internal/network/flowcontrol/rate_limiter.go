// Package flowcontrol paces outgoing file data.
package flowcontrol

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket over bytes. A nil *RateLimiter does not limit.
type RateLimiter struct {
	mu         sync.Mutex
	rate       int64 // bytes per second
	burst      int64
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter returns a limiter for rate bytes per second, or nil when
// rate is not positive. burst defaults to one second of rate.
func NewRateLimiter(rate, burst int64) *RateLimiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst), // Start with full bucket
		lastRefill: time.Now(),
	}
}

// Wait blocks until n bytes may be sent. Requests larger than burst are
// admitted once the bucket is full and leave it in debt.
func (rl *RateLimiter) Wait(ctx context.Context, n int64) error {
	if rl == nil {
		return nil
	}

	for {
		delay := rl.reserve(n)
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve consumes n tokens if available, otherwise returns how long to
// wait before trying again.
func (rl *RateLimiter) reserve(n int64) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * float64(rl.rate)
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastRefill = now

	need := float64(n)
	if need > float64(rl.burst) {
		need = float64(rl.burst)
	}
	if rl.tokens >= need {
		rl.tokens -= float64(n)
		return 0
	}

	missing := need - rl.tokens
	return time.Duration(missing / float64(rl.rate) * float64(time.Second))
}

// SetRate updates the rate limit (bytes per second)
func (rl *RateLimiter) SetRate(rate int64) {
	if rl == nil || rate <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rate = rate
}

// Rate returns the current rate limit
func (rl *RateLimiter) Rate() int64 {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rate
}
