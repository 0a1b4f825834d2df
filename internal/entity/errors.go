package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrInvalidEntity is returned when an entity definition fails validation.
	ErrInvalidEntity = errors.New("entity: invalid")

	// ErrDuplicateEntity is returned when two entities share an ID or measurement.
	ErrDuplicateEntity = errors.New("entity: duplicate")
)
