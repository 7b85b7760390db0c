package middleware

import (
	"net/http"

	"streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware converts errors attached by handlers into JSON
// responses. Statuses come from the signaling error-code mapping
// (AuthenticationFailed 401, PeerNotFound 404, Timeout 408,
// InvalidMessageFormat 400, everything else 500), not from whatever
// status a wrapped error happened to carry. Server-side detail is logged
// but never returned on 5xx responses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "internal server error",
			})
			return
		}

		status := errors.HTTPStatusForCode(appErr.Code)
		message := appErr.Message
		if status >= http.StatusInternalServerError {
			message = "internal server error"
		}

		logger.Errorw("request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"context", appErr.Context,
		)

		c.JSON(status, gin.H{
			"error":   string(appErr.Code),
			"message": message,
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 without taking the
// process down. Signaling sockets panicking would otherwise kill every
// live session on the server.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
