// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request correlation id, a structured access logger,
// and panic recovery:
//
//   - RequestID() gives every request a stable correlation id, reused from
//     the X-Request-ID header when the caller supplies one.
//   - Logger() emits one structured zerolog line per request and attaches a
//     request-scoped logger to the Gin context for handlers and services.
//   - Recovery() turns panics into JSON 500 responses carrying the
//     correlation id, with the stack trace going to the log only.
//   - LoggerFrom() retrieves the request-scoped logger.
//
// RequestID must run before Logger and Recovery so their output carries the
// correlation id. RedactingLogger is the drop-in replacement for Logger when
// header scrubbing is wanted; both store the same context keys.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation id.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation id in both directions.
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps logged query strings; page cursors and share
	// tokens fit well under this, anything longer is suspect anyway.
	maxQueryLogLength = 2048
)

// RequestID attaches or propagates a correlation id. An incoming
// X-Request-ID is reused (header lookup is case-insensitive); otherwise a
// fresh UUIDv4 is generated. The id is stored in the context and echoed on
// the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes one structured access log per request and stores a
// request-scoped zerolog.Logger under the "logger" context key.
//
// The identity field logs the session kind rather than raw identity: "guest"
// when no user id is present, the user id otherwise. Level follows the
// outcome: error for 5xx or collected Gin errors, warn for 4xx, info
// otherwise. Streamed responses report bytes_out -1; the writer cannot
// measure a hijacked or flushed SSE body.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", ctxString(rid)).
			Str("user", userLabel(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		out := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			out.Error().Msg("request")
		case status >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs the stack trace with the correlation id,
// and answers with a JSON 500 when nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", ctxString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, ctxString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": ctxString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger attached by Logger or
// RedactingLogger, or the global logger when none is attached. Callers never
// need a nil check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// userLabel resolves the identity to log: the user id from the context or
// the X-User-ID header, or "guest" when the request carries neither. Guest
// traffic is first-class here, so absence is a label, not an anomaly.
func userLabel(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		return uid
	}
	return "guest"
}

// ctxString converts a context value to a string, empty for non-strings.
func ctxString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables
// truncation. Byte truncation can split a rune; fine for log output.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
