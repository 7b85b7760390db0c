package middleware

import (
	"net/http"

	"streamrelay/pkg/config"
	"streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// NewWSConnectionRateLimitMiddleware limits how fast one IP may open new
// signaling sockets. Applied only to the upgrade routes; message-level
// limits are enforced on the connection itself via read limits.
func NewWSConnectionRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
	store := newLimiterStore(rate.Limit(float64(perMinute)/60.0), perMinute)

	return func(c *gin.Context) {
		if !store.allow(clientIP(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(errors.ErrCodeRateLimit),
				"message": "connection rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
