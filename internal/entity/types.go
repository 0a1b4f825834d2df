package entity

import (
	"maps"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
)

// Trigger records why a measurement was written.
type Trigger string

// Trigger values written to the "trigger" tag.
const (
	TriggerChange    Trigger = "change"
	TriggerHeartbeat Trigger = "heartbeat"
	TriggerStartup   Trigger = "startup"
)

// Valid reports whether t is one of the known triggers.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerChange, TriggerHeartbeat, TriggerStartup:
		return true
	}
	return false
}

// Entity is one monitored source of values.
type Entity struct {
	ID          string            `json:"id"`
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags,omitempty"`

	// MinDelta suppresses change writes whose distance from the last
	// written value is strictly less than this. Nil disables the filter.
	MinDelta *float64 `json:"min_delta,omitempty"`
}

// clone returns a copy that shares no maps or pointers with e.
func (e Entity) clone() Entity {
	out := e
	if e.Tags != nil {
		out.Tags = maps.Clone(e.Tags)
	}
	if e.MinDelta != nil {
		d := *e.MinDelta
		out.MinDelta = &d
	}
	return out
}

// FromConfig converts configured entities into registry entries.
func FromConfig(cfgs []config.EntityConfig) []Entity {
	out := make([]Entity, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Entity{
			ID:          c.ID,
			Measurement: c.Measurement,
			Tags:        c.Tags,
			MinDelta:    c.MinDelta,
		}.clone())
	}
	return out
}
