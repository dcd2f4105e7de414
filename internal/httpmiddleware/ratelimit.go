package httpmiddleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/audit"
	"classattend/internal/cache"
)

// RateLimiter enforces a fixed-window per-client request budget on top of
// the TTL cache, so limits survive restarts when backed by Redis and expired
// windows are evicted by the cache instead of a bespoke cleanup loop.
type RateLimiter struct {
	cache   cache.Cache
	auditor *audit.Service
	limit   int64
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(c cache.Cache, auditor *audit.Service, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{cache: c, auditor: auditor, limit: int64(limit), window: window}
}

// GinMiddleware returns a gin handler enforcing per-IP limits. A tripped
// limit is audited; cache outages fail open.
func (l *RateLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		key := fmt.Sprintf("ratelimit:%s:%d", ip, time.Now().Unix()/int64(l.window.Seconds()))

		count, err := l.cache.Incr(c.Request.Context(), key, l.window)
		if err != nil {
			log.Printf("rate limit cache error, failing open: %v", err)
			c.Next()
			return
		}
		if count > l.limit {
			if count == l.limit+1 && l.auditor != nil {
				l.auditor.Append(c.Request.Context(), audit.Entry{
					UserID:    clientUserID(c),
					Action:    audit.ActionRateLimitTrip,
					Resource:  c.FullPath(),
					IPAddress: ip,
					UserAgent: c.Request.UserAgent(),
				})
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func clientUserID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "anonymous"
}
