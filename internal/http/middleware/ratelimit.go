// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-identity token-bucket limiter that guards the
// chat and image endpoints. Buckets live in process memory, which is the
// right trade-off for a single-replica sync service; a horizontally scaled
// deployment would need a shared limiter instead.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Idle buckets are evicted after this long, and eviction runs once per this
// many lookups rather than on a timer.
const (
	bucketTTL     = 10 * time.Minute
	sweepInterval = 5000
)

// keyFunc maps a request to the identity whose bucket it draws from. The
// returned string must be stable for the duration of the request.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by signed-in user when one is known, falling
// back to the client IP for guest traffic. Prefixes keep the user and IP
// namespaces from colliding.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out tokens from one bucket per identity. Buckets are
// created on first use and swept opportunistically so the map stays bounded
// even under churn from guest IPs. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups uint64
}

// NewRateLimiter builds a limiter replenishing rps tokens per second with the
// given burst capacity. A burst below 1 is coerced to 1 so every identity can
// make at least one request.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
	}
}

// bucketFor returns the limiter for key, creating it if absent. Sweeping runs
// before the lookup so an idle bucket is evicted even when it is the one
// being fetched, which resets its tokens to a full burst.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.lookups++
	if rl.lookups >= sweepInterval {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		lim := b.limiter
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	rl.mu.Unlock()
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of an already completed turn. Replays are served from the stored
// response and must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the middleware. Rejected requests get a 429 with the usual
// error envelope and a Retry-After hint of one second, which matches the
// replenish interval at typical configured rates.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		if rl.bucketFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
