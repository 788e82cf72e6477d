// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a conservative set of
// HTTP security headers suitable for a JSON API running behind a reverse
// proxy. HSTS is opt-in and only ever emitted on HTTPS requests; no CSP is
// set since the API serves no HTML.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// exposedHeaders are response headers browser clients need to read across
// origins: the request correlation id, list-endpoint validators, and the
// idempotent-replay marker.
var exposedHeaders = []string{"X-Request-ID", "ETag", "Idempotency-Replayed"}

// SecurityOptions configures the headers emitted by SecurityHeaders.
//
// EnableHSTS must only be set when traffic is HTTPS end-to-end, including
// between the proxy and the app; the header is never sent on plain HTTP
// requests regardless. HSTSMaxAge defaults to 180 days when zero.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma/Expires). Leave it
// off here: the list endpoints rely on ETag revalidation, which no-store
// disables.
//
// EnablePolicy includes the browser feature policies (Permissions-Policy,
// X-Permitted-Cross-Domain-Policies). They only affect user agents and are
// harmless for non-browser clients.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders returns a Gin middleware that hardens every response.
//
// Always sets:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// and appends the exposedHeaders list to Access-Control-Expose-Headers
// without clobbering values other middleware already placed there. The
// optional headers follow SecurityOptions.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		exposeHeaders(h)

		c.Next()
	}
}

// exposeHeaders appends the exposedHeaders entries to
// Access-Control-Expose-Headers, preserving anything already listed.
func exposeHeaders(h http.Header) {
	const key = "Access-Control-Expose-Headers"
	cur := h.Get(key)
	for _, name := range exposedHeaders {
		if cur == "" {
			cur = name
			continue
		}
		if !strings.Contains(cur, name) {
			cur += ", " + name
		}
	}
	h.Set(key, cur)
}

// isHTTPS reports whether the request used HTTPS, directly (r.TLS != nil) or
// via a reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
