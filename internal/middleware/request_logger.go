package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs every request with its status and latency.
// Query strings are omitted because webhook callbacks carry signatures there.
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userCtx, ok := GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request completed with server error")
		case c.Writer.Status() >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed")
		}
	}
}
