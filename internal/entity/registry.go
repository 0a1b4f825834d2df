package entity

import (
	"fmt"
	"math"
	"strings"
)

// reservedTagKey is owned by the line encoder.
const reservedTagKey = "trigger"

// Registry is the static, validated set of monitored entities.
type Registry struct {
	byID  map[string]Entity
	order []string
}

// NewRegistry validates entities and builds a registry preserving their order.
//
// Returns ErrInvalidEntity for missing fields, a negative or non-finite
// MinDelta, a reserved tag key, or a tag key or value that is empty or ends
// in a backslash, and ErrDuplicateEntity when an ID or
// measurement appears twice.
func NewRegistry(entities []Entity) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Entity, len(entities)),
		order: make([]string, 0, len(entities)),
	}
	measurements := make(map[string]string, len(entities))

	for i, e := range entities {
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		if _, ok := r.byID[e.ID]; ok {
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateEntity, e.ID)
		}
		if other, ok := measurements[e.Measurement]; ok {
			return nil, fmt.Errorf("%w: measurement %q used by %q and %q", ErrDuplicateEntity, e.Measurement, other, e.ID)
		}
		measurements[e.Measurement] = e.ID
		r.byID[e.ID] = e.clone()
		r.order = append(r.order, e.ID)
	}

	return r, nil
}

func validate(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntity)
	}
	if e.Measurement == "" {
		return fmt.Errorf("%w: %q: measurement is required", ErrInvalidEntity, e.ID)
	}
	if !validTagText(e.Measurement) {
		return fmt.Errorf("%w: %q: measurement %q not allowed", ErrInvalidEntity, e.ID, e.Measurement)
	}
	if e.MinDelta != nil {
		d := *e.MinDelta
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: %q: min_delta must be a finite number >= 0", ErrInvalidEntity, e.ID)
		}
	}
	for k, v := range e.Tags {
		if k == reservedTagKey || !validTagText(k) {
			return fmt.Errorf("%w: %q: tag key %q not allowed", ErrInvalidEntity, e.ID, k)
		}
		if !validTagText(v) {
			return fmt.Errorf("%w: %q: tag %q: value %q not allowed", ErrInvalidEntity, e.ID, k, v)
		}
	}
	return nil
}

// validTagText reports whether s survives line encoding as a measurement,
// tag key or tag value: non-empty once CR/LF are stripped, and not ending in a backslash,
// which would escape the following delimiter.
func validTagText(s string) bool {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	return s != "" && !strings.HasSuffix(s, `\`)
}

// Get returns the entity with the given ID.
func (r *Registry) Get(id string) (Entity, bool) {
	e, ok := r.byID[id]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// All returns every entity in registration order.
func (r *Registry) All() []Entity {
	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// IDs returns every entity ID in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	return len(r.order)
}
