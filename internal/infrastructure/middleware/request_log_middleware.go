package middleware

import (
	"time"

	"streamrelay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogMiddleware logs every HTTP request through the context logger.
// WebSocket upgrade routes log once on session end, which is the useful
// moment for long-lived sockets.
func RequestLogMiddleware(ctxLogger *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ctxLogger.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
