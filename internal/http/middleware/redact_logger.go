// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger that scrubs
// personal identifiers and provider credentials from request metadata
// before anything reaches the log stream. Bodies are never logged; chat
// prompts and assistant replies stay out of the logs entirely.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scrub patterns, compiled once. UUIDs are replaced before phone numbers
// so the loose phone pattern cannot match a UUID's digit runs.
var (
	redactUUIDRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	redactEmailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	redactPhoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactText scrubs identifier-shaped substrings from s.
func redactText(s string) string {
	if s == "" {
		return s
	}
	s = redactUUIDRE.ReplaceAllString(s, "[REDACTED:id]")
	s = redactEmailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = redactPhoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// RedactOptions configures extra scrub behavior for RedactingLogger.
//
// MaskHeaders names additional headers whose values are replaced with
// "[REDACTED]" wholesale. Matching is case-insensitive and merged with the
// built-in set (Authorization, Cookie, Set-Cookie, X-LLM-Key).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a middleware that logs each request with scrubbed
// query strings and headers. Entries go out at info level, warn for 4xx, and
// error for 5xx, as structured zerolog JSON.
//
// Scrubbing lowers the odds of identifiers reaching the logs but is not a
// guarantee; clients should still keep PII out of query strings.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-llm-key":     {}, // caller-supplied provider key, never logged
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactText(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redactText(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
