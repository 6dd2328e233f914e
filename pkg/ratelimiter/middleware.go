package ratelimiter

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ClientLimiter applies per-client sliding windows to inbound HTTP requests.
// Unlike Limiter it never blocks: a request over the limit is rejected.
type ClientLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	span    time.Duration
}

// NewClientLimiter creates a ClientLimiter allowing limit requests per
// client key within the window span
func NewClientLimiter(limit int, span time.Duration) *ClientLimiter {
	return &ClientLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		span:    span,
	}
}

// Allow reports whether the client identified by key may make a request now,
// recording the request if allowed
func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	window := cl.pruned(key, now)

	if len(window) >= cl.limit {
		cl.windows[key] = window
		return false
	}

	cl.windows[key] = append(window, now)
	return true
}

// Remaining returns how many requests the client has left in its window
func (cl *ClientLimiter) Remaining(key string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	remaining := cl.limit - len(cl.pruned(key, time.Now()))
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// pruned returns the client window with expired entries dropped.
// Caller must hold the lock.
func (cl *ClientLimiter) pruned(key string, now time.Time) []time.Time {
	cutoff := now.Add(-cl.span)
	window := cl.windows[key]
	idx := 0
	for idx < len(window) && !window[idx].After(cutoff) {
		idx++
	}
	return window[idx:]
}

// Size returns the number of tracked client windows
func (cl *ClientLimiter) Size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.windows)
}

// Cleanup removes clients whose windows are fully expired to prevent
// unbounded memory growth
func (cl *ClientLimiter) Cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	for key := range cl.windows {
		if len(cl.pruned(key, now)) == 0 {
			delete(cl.windows, key)
		}
	}
}

// Middleware creates a Gin middleware for per-client rate limiting
func (cl *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !cl.Allow(clientIP) {
			retryAfter := int(cl.span.Seconds())

			c.Header("X-RateLimit-Limit", strconv.Itoa(cl.limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests. Rate limit exceeded.",
					"details": "Maximum " + strconv.Itoa(cl.limit) + " requests per " + cl.span.String() + " allowed.",
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(cl.Remaining(clientIP)))

		c.Next()
	}
}
