package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates an API key that does not resolve.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdempotencyKeyMissing occurs when a side-effecting request carries no token.
	ErrIdempotencyKeyMissing = errors.New("idempotency key missing")
	// ErrRequestInFlight occurs when an identical idempotent request is still processing.
	ErrRequestInFlight = errors.New("identical request still processing")
)
