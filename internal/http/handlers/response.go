// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response shapes shared by every endpoint. Errors
// always travel in an ErrorResponse envelope whose code is one of the
// constants in errors.go; successes go through ok() and noContent() so the
// serialization stays uniform. A 5xx is also logged with the request-scoped
// logger, since that is the only envelope a client ever sees of a server
// fault.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "chat not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nkoutris/go-chat-sync/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. RequestID
// lets a client report a failure that operators can find in the logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"chat not found"`
}

// fail aborts the request with a structured error. Client errors (4xx) are
// not logged here; the access logger already records them at warn.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail(), for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
