package control

import (
	"sync"
	"time"
)

// rateCounter tracks one remote address's request count within the current
// rolling 60-second window.
type rateCounter struct {
	windowStart time.Time
	count       int
}

// rateLimiter enforces a per-remote-address request cap over a rolling
// one-minute window. Idle entries are evicted lazily on access rather than
// via a background sweep, since correctness never depends on prompt
// eviction.
type rateLimiter struct {
	mu       sync.Mutex
	counters map[string]*rateCounter
	limit    int
	window   time.Duration
}

func newRateLimiter(limitPerMinute int) *rateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 1200
	}
	return &rateLimiter{
		counters: make(map[string]*rateCounter),
		limit:    limitPerMinute,
		window:   time.Minute,
	}
}

// Allow consumes one request from remoteAddr's window, returning false once
// the window's count exceeds the configured limit.
func (r *rateLimiter) Allow(remoteAddr string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[remoteAddr]
	if !ok || now.Sub(c.windowStart) >= r.window {
		c = &rateCounter{windowStart: now, count: 0}
		r.counters[remoteAddr] = c
	}
	c.count++
	return c.count <= r.limit
}
