package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func routeOf(c *gin.Context, fallback string) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	if fallback != "" {
		return fallback
	}
	return c.Request.URL.Path
}

func routeSet(routes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return set
}

// RequestLogger logs one line per request. Routes listed in polled are
// logged at trace level unless they fail; UIs hit them several times a
// second.
func RequestLogger(logger zerolog.Logger, polled ...string) gin.HandlerFunc {
	quiet := routeSet(polled)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := routeOf(c, "")

		var event *zerolog.Event
		switch _, isPolled := quiet[path]; {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case status == http.StatusSwitchingProtocols:
			event = logger.Info()
		case isPolled:
			event = logger.Trace()
		default:
			event = logger.Debug()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request")
	}
}

// RequestMetricsMiddleware records request counts and durations. Routes
// listed in streams are long-lived upgrades and are counted without a
// duration sample.
func RequestMetricsMiddleware(streams ...string) gin.HandlerFunc {
	long := routeSet(streams)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := routeOf(c, "unmatched")
		if _, ok := long[path]; ok {
			RecordHTTPStream(c.Request.Method, path, c.Writer.Status())
			return
		}
		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
