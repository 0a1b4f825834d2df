package queue

import (
	"maps"

	"github.com/google/uuid"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/lineproto"
)

// Record is one undelivered measurement.
//
// Measurement and tags are captured when the record is created so a
// queued record can still be encoded after a restart with a changed
// entity list.
type Record struct {
	ID             string            `json:"id"`
	EntityID       string            `json:"entity_id"`
	Measurement    string            `json:"measurement"`
	Tags           map[string]string `json:"tags,omitempty"`
	Value          float64           `json:"value"`
	Trigger        entity.Trigger    `json:"trigger"`
	TimestampNanos int64             `json:"timestamp_ns"`
}

// NewRecord creates a record for e with a fresh ID.
func NewRecord(e entity.Entity, value float64, trigger entity.Trigger, tsNanos int64) Record {
	return Record{
		ID:             uuid.NewString(),
		EntityID:       e.ID,
		Measurement:    e.Measurement,
		Tags:           maps.Clone(e.Tags),
		Value:          value,
		Trigger:        trigger,
		TimestampNanos: tsNanos,
	}
}

// Point converts the record for the line encoder.
func (r Record) Point() lineproto.Point {
	return lineproto.Point{
		Measurement:    r.Measurement,
		Tags:           r.Tags,
		Trigger:        string(r.Trigger),
		Value:          r.Value,
		TimestampNanos: r.TimestampNanos,
	}
}

// Encode returns the line protocol form of the record.
func (r Record) Encode() string {
	return lineproto.Encode(r.Point())
}

// EncodeAll encodes records in order, one line each.
func EncodeAll(records []Record) []string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Encode()
	}
	return lines
}

func (r Record) valid() bool {
	return r.EntityID != "" && r.Measurement != "" && r.Trigger.Valid()
}
