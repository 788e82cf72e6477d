// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation. Metrics() measures HTTP
// traffic (request counts, latencies, in-flight concurrency, response sizes);
// ObserveTurnSettled records conversational turn outcomes so dashboards can
// separate provider failures from transport errors.
//
// Label cardinality is kept bounded:
//
//   - method:  HTTP method verb (GET/POST/…)
//   - path:    the registered Gin route (e.g. /api/v1/chats/:id/messages);
//     falls back to the raw URL path when no route matched
//   - status:  numeric status code as a string (e.g. "200", "404")
//   - outcome: turn result bucket ("text", "error")
//
// All collectors are safe for concurrent use.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chatsync"

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	// Status is omitted to keep histogram cardinality down. The upper buckets
	// extend past the defaults because streamed turns hold the request open
	// for the whole generation.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets: []float64{
				.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120,
			},
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges the number of requests currently being processed.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	// httpRespSize captures response sizes in bytes by method and route path.
	// Buckets cover small JSON envelopes up to full shared-chat transcripts.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// turnsSettled counts settled conversational turns by outcome.
	turnsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_settled_total",
			Help:      "Total number of settled conversational turns by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, turnsSettled)
}

// Turn outcome labels for ObserveTurnSettled.
const (
	TurnOutcomeText  = "text"
	TurnOutcomeError = "error"
)

// ObserveTurnSettled records one settled turn. Handlers call it exactly once
// per turn, after the outcome is persisted.
func ObserveTurnSettled(outcome string) {
	turnsSettled.WithLabelValues(outcome).Inc()
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// The "path" label uses the registered route (c.FullPath()) so raw URLs never
// become label values; when no route matched (e.g. 404) it falls back to
// c.Request.URL.Path. SSE responses report no size (the writer returns -1
// after streaming), in which case the size observation is skipped.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
