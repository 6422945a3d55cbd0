package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Context keys the dispatcher sets for the access log. They mirror the
// constants in the gateway package without importing it.
const (
	routeKey   = "gateway.route"
	stageKey   = "gateway.stage"
	subjectKey = "gateway.subject"
)

// Logger writes one access log line per request.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		attrs := []any{
			"request_id", c.GetString(RequestIDKey),
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency,
			"client_ip", c.ClientIP(),
		}
		if route := c.GetString(routeKey); route != "" {
			attrs = append(attrs, "route", route, "stage", c.GetString(stageKey))
		}
		if subject := c.GetString(subjectKey); subject != "" {
			attrs = append(attrs, "subject", subject)
		}

		level := slog.LevelInfo
		if statusCode >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "Request", attrs...)
	}
}
