// Package handlers defines the HTTP-layer error codes used across all API
// endpoints.
//
// These symbolic constants are mapped to HTTP responses via the `fail()`
// helper and give clients a stable, machine-readable error taxonomy next to
// the human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless noted.
//   - Generic codes (bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics.
//   - Domain-specific codes cover outcomes a status alone cannot convey,
//     such as an exhausted image free tier on an otherwise valid request.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeTurnFailed        = "turn_failed"
	ErrCodeImageFailed       = "image_failed"
	ErrCodeShareFailed       = "share_failed"
	ErrCodeSyncFailed        = "sync_failed"
	ErrCodeNotSynced         = "not_synced"
	ErrCodeSignInRequired    = "sign_in_required"
	ErrCodeFreeTierExhausted = "free_tier_exhausted"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)
