// Package services defines the application logic: local/cloud
// reconciliation, metadata cache maintenance, and chat turn orchestration.
// This file centralizes common service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist or is
	// not accessible to the current session.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound indicates that the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyPrompt is returned when a send request contains an empty prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrNotSynced is returned for operations that require a cloud
	// counterpart (sharing) on a chat that has never reached the cloud.
	ErrNotSynced = errors.New("chat not synced to cloud")

	// ErrGuestOnly is returned when an authenticated-only operation is
	// attempted from a guest session.
	ErrGuestOnly = errors.New("operation requires a signed-in user")

	// ErrNotShared indicates that the requested share token resolves to
	// nothing.
	ErrNotShared = errors.New("chat is not shared")

	// ErrFreeTierExhausted is returned when the image generation cap for the
	// user has been reached.
	ErrFreeTierExhausted = errors.New("free image generations exhausted")
)
