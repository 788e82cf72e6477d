// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for the unsafe chat endpoints.
// Clients retrying a send or regenerate pass the same Idempotency-Key; the
// middleware validates the header, stashes the key in the request context,
// and flags known replays so handlers can serve the stored message instead
// of running the turn again. Persistence stays behind the narrow
// IdempotencyLookup function type, so the middleware never touches the
// database directly.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's retry
// token. The value must be stable across retries of the same logical send.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for idempotency state. Unexported; read through the accessor
// helpers below.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: a stored result exists for this key
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting for this request
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
// Handlers read the key through this accessor rather than the raw header so
// they only ever see values that passed validation.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request repeats an already completed turn.
// Handlers use it to return the persisted assistant message without calling
// the model again.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. TTL enforcement belongs in
// the lookup, which knows when the stored record was created.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil selects a conservative
	// token pattern: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a successful, still-valid result exists
// for (userID, chatID, key) at the given time. userID is empty for guest
// sessions and chatID is the local numeric chat id. Return exists=true when
// the prior response can be replayed; return an error only for lookup
// failures, which must not block normal processing.
type IdempotencyLookup func(ctx context.Context, userID string, chatID uint, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes the key, and consults lookup for a prior completed turn. A detected
// replay sets both the replay flag and the rate-limit bypass flag; the
// handler still decides how the replayed response is produced.
//
// Requests without the header pass through untouched. A malformed key is the
// only case that aborts, with a 400.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		// Replay detection needs a chat; routes without a numeric :id
		// (for example POST /chats itself) skip the lookup.
		if lookup != nil {
			if chatID := chatIDFromPath(c); chatID > 0 {
				uid := userIDFromCtx(c)
				if exists, _ := lookup(c.Request.Context(), uid, chatID, key, time.Now().UTC()); exists {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}

// chatIDFromPath parses the numeric :id route parameter, returning 0 when the
// route carries none or the value is not a positive integer.
func chatIDFromPath(c *gin.Context) uint {
	n, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}

// userIDFromCtx extracts the user identifier set by upstream identity
// middleware, falling back to the X-User-ID header. Guest requests yield the
// empty string.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.GetHeader("X-User-ID")
}
