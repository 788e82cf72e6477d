// Package cloud implements a thin client for the hosted document database
// that mirrors chats, messages, and per-user metadata across devices.
//
// This file centralizes the error taxonomy surfaced by the client. Nothing
// here is retried automatically; the sync layer decides whether a failure is
// fatal to the user-visible operation or merely degrades to local-only mode.
package cloud

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnauthorized indicates the document is not owned by the caller, or
	// the project credentials were rejected.
	ErrUnauthorized = errors.New("not authorized for document")

	// ErrInvalid indicates the server rejected the payload (missing or
	// malformed required fields).
	ErrInvalid = errors.New("invalid document payload")
)

// NetworkError wraps transport-level failures (DNS, connect, timeout) so
// callers can distinguish "the service said no" from "the service was never
// reached". Transient by nature; the caller may re-trigger, this layer
// never does.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cloud: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
