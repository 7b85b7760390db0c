package middleware

import (
	"net/http"
	"time"

	"streamrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a span per HTTP request. Signaling upgrade
// routes are tagged with their role so a long-lived socket session is
// distinguishable from an API poll; Prometheus scrapes of /metrics are
// not traced at all.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "/metrics" {
			c.Next()
			return
		}

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.remote_addr", clientIP(c.Request)),
		)
		switch route {
		case "/player":
			span.SetAttributes(attribute.String("signaling.role", "player"))
		case "/grabber/:name":
			span.SetAttributes(attribute.String("signaling.role", "grabber"))
		}

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			tracing.DurationKey.Int64(time.Since(start).Milliseconds()),
		)

		// 4xx on this surface is client misuse (bad peer name, rate limit),
		// not a server fault; only 5xx and attached handler errors mark the
		// span failed.
		if c.Writer.Status() >= http.StatusInternalServerError || len(c.Errors) > 0 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
