package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Keys the middleware stores on the gin context.
const (
	CtxRequestID = "request_id"
	CtxStartTime = "start_time"
)

// Request scopes the global logger to one HTTP request. Websocket
// subscribers live for minutes, so the start time is logged as a time and
// the elapsed duration only by the caller that knows it is done.
func Request(c *gin.Context) zerolog.Logger {
	lc := log.With()
	if c == nil {
		return lc.Logger()
	}
	if id := c.GetString(CtxRequestID); id != "" {
		lc = lc.Str("request_id", id)
	}
	if v, ok := c.Get(CtxStartTime); ok {
		if started, ok := v.(time.Time); ok {
			lc = lc.Time("request_start", started)
		}
	}
	return lc.Str("route", c.FullPath()).Str("client_ip", c.ClientIP()).Logger()
}

// Elapsed is the time since the middleware stamped the request, zero when unset.
func Elapsed(c *gin.Context) time.Duration {
	if v, ok := c.Get(CtxStartTime); ok {
		if started, ok := v.(time.Time); ok {
			return time.Since(started)
		}
	}
	return 0
}
