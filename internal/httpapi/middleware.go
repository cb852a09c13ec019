package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Recovery converts a panic in a handler into a 500 response and a logged
// error instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered in http handler", "panic", r, "path", c.Request.URL.Path)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}

// Logger emits one structured log line per request, after the otelgin
// middleware has attached trace context so the line carries trace/span ids.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
