package control

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forkline/core/internal/token"
)

// loopbackOnly rejects any request whose remote address is not the IPv4 or
// IPv6 loopback, checked before any parsing so a misconfigured reverse
// proxy or firewall can never widen the daemon's bind contract.
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

// rejectCrossOrigin rejects any request carrying an Origin header
// unconditionally: the daemon has no browser-origin consumers, so there is
// nothing for a permissive CORS policy to protect.
func rejectCrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") != "" {
			abortJSON(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

// rejectOptions refuses CORS preflight outright; the service supports no
// cross-origin use, so there is no preflight to answer.
func rejectOptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			abortJSON(c, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		c.Next()
	}
}

// rateLimited consumes one slot from the rolling per-remote window.
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

// publicPaths lists routes that skip bearer-token auth.
var publicPaths = map[string]bool{
	"/v1/health":  true,
	"/v1/version": true,
}

// requireToken enforces constant-time bearer-token auth on every non-public
// route. Every failure path returns the same 403 body regardless of cause,
// so a probing client can never learn which check failed.
func requireToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

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

// bodyCap enforces the configured maximum request body size, destroying
// the request without ever handing the handler a partial/truncated body.
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

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
