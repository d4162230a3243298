package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

// StateFunc reports the session state to attach to request logs.
type StateFunc func() string

// RequestLogger logs one line per request tagged with a request id, echoed
// in RequestIDHeader, and the session state after the handler ran. A nil
// state omits the field. Websocket upgrades are logged when they close.
func RequestLogger(logger zerolog.Logger, state StateFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		upgrade := strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event = event.
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start))
		if upgrade {
			event = event.Bool("websocket", true)
		}
		if state != nil {
			event = event.Str("session_state", state())
		}
		event.Msg("http_request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
