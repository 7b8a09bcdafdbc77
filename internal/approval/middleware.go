package approval

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forkline/core/internal/token"
)

// The Approval Gateway is a second, independent loopback HTTP server that
// enforces the same auth/origin/size/allowlist discipline as the Control
// Daemon, so it carries its own small copy of the security-perimeter
// middleware rather than importing the control daemon's.

func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			abortJSON(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func rejectCrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") != "" {
			abortJSON(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func rejectOptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			abortJSON(c, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		c.Next()
	}
}

func bodyCap(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortJSON(c, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// requireToken enforces constant-time bearer-token auth on every gateway
// route: agent callbacks authenticate the same way operator traffic does.
func requireToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate := bearerToken(c.Request)
		if !token.Equal(expected, candidate) {
			abortJSON(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			return auth[len(prefix):]
		}
	}
	return r.Header.Get("x-forkline-token")
}

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

type rateCounter struct {
	windowStart time.Time
	count       int
}

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
	return &rateLimiter{counters: make(map[string]*rateCounter), limit: limitPerMinute, window: time.Minute}
}

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

func rateLimited(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if !rl.Allow(host) {
			abortJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
