package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/devfolio/api/pkg/errors"
	"github.com/devfolio/api/pkg/response"
)

// RateLimit limits requests per (clientIP, path) within a fixed window using
// the supplied store. A nil store falls back to the in-memory implementation.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return ScopedRateLimit(store, "global", maxRequests, window)
}

// ScopedRateLimit is RateLimit with its own counter namespace, so a group can
// stack a tighter limit on top of the global one without sharing counts.
func ScopedRateLimit(store RateStore, scope string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := "rate:" + scope + ":" + c.ClientIP() + "|" + c.FullPath()
		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken counter store must not take the API down
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			response.Error(c, appErrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
