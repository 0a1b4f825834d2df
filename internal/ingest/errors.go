package ingest

import "errors"

// Sentinel errors for the ingest package.
var (
	// ErrMissingDependency is returned by constructors when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("ingest: missing dependency")

	// ErrInvalidConfig is returned for non-positive intervals or batch sizes.
	ErrInvalidConfig = errors.New("ingest: invalid configuration")
)
