package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HTTPTelemetry logs every admin request through the given logger and
// feeds the request counters. Severity follows the response status.
func HTTPTelemetry(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, status)

		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = logger.Error()
		case status >= 400:
			evt = logger.Warn()
		default:
			evt = logger.Info()
		}
		evt.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Str("remote", c.ClientIP()).
			Dur("elapsed", time.Since(start)).
			Msg("admin_request")
	}
}
