package tsdb

import "errors"

var (
	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed wraps a failed /health check in Connect.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed wraps transport errors and non-2xx /write responses.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled is returned by New when tsdb.enabled is false.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
