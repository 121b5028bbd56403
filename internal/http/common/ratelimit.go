package common

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/infra/ratelimit"
)

// RateLimitPolicy throttles a route per authenticated subject.
type RateLimitPolicy struct {
	Limiter    ratelimit.Limiter
	Requests   int
	Window     time.Duration
	FailClosed bool
}

// RateLimit must run after AuthMiddleware; routeID namespaces the counter.
func RateLimit(policy RateLimitPolicy, routeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if policy.Limiter == nil || policy.Requests <= 0 {
			c.Next()
			return
		}
		value, _ := c.Get(principalKey)
		principal, ok := value.(bsd.Principal)
		if !ok || principal.Subject == "" {
			c.Next()
			return
		}
		key := "route:" + routeID + ":subject:" + principal.Subject
		decision, err := policy.Limiter.Allow(c.Request.Context(), key, policy.Requests, policy.Window)
		if err != nil {
			if policy.FailClosed {
				WriteErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				return
			}
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			WriteErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		retry := int64(time.Until(decision.ResetAt).Seconds())
		if retry < 0 {
			retry = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
	}
}
