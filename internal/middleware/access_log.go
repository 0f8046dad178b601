package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/response"
)

// AccessLog writes one line per request. It logs the route pattern, never the
// raw path, so access tokens in the URL stay out of the logs.
func AccessLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", response.RequestID(c)).
			Msg("Request served")
	}
}
