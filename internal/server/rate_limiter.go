// Package server implements per-session flood control that paces a
// participant's read loop instead of dropping its lines.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows bursts of capacity lines, refilled evenly over
// interval. A capacity of zero disables pacing and returns nil.
func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}

	every := rate.Every(interval / time.Duration(capacity))
	return &rateLimiter{
		limiter: rate.NewLimiter(every, capacity),
	}
}

// wait blocks until the next line may be broadcast. It returns false when
// done closes first.
func (rl *rateLimiter) wait(done <-chan struct{}) bool {
	if rl == nil {
		return true
	}

	r := rl.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-done:
		r.Cancel()
		return false
	}
}
