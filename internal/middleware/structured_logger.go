package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collabspace/collabd/internal/logger"
)

// StructuredLogger logs every admin HTTP request via zerolog: request ID,
// method, path, status, duration and client IP. 5xx logs at error, 4xx at
// warn, everything else at info.
func StructuredLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := logger.HTTP().Info()
		switch {
		case status >= 500:
			event = logger.HTTP().Error()
		case status >= 400:
			event = logger.HTTP().Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}
		event.Msg("admin request")
	}
}
