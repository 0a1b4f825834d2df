package influxdb

import "errors"

// A failed Submit always wraps ErrWriteFailed or ErrNotConnected. The ingest
// package treats both the same way and queues the records:
//
//	if err := client.Submit(ctx, lines); err != nil {
//	    // errors.Is(err, influxdb.ErrWriteFailed) for server-side rejections
//	}
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrWriteFailed      = errors.New("influxdb: write failed")

	// ErrDisabled is returned by New when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
