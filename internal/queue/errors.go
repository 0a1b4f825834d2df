package queue

import "errors"

var (
	// ErrNoPath is returned by Open when no queue file path is configured.
	ErrNoPath = errors.New("queue: file path is required")

	// ErrPersistFailed indicates the snapshot could not be written to disk.
	// The in-memory queue is unaffected.
	ErrPersistFailed = errors.New("queue: persist failed")
)
