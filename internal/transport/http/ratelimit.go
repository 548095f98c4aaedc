package http

import "time"

// rateLimiter is a fixed-window counter owned by a single connection's
// reader goroutine.
type rateLimiter struct {
	limit   int
	window  time.Duration
	started time.Time
	counter int
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if r.started.IsZero() || now.Sub(r.started) >= r.window {
		r.started = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
