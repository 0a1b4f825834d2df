package source

import "errors"

// Sentinel errors for the source package.
var (
	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("source: not started")

	// ErrInvalidPayload indicates a message body could not be decoded.
	ErrInvalidPayload = errors.New("source: invalid payload")
)
