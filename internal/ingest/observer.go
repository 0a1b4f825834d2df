package ingest

import (
	"time"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
)

// Outcome is the result of one write attempt.
type Outcome string

// Write outcomes.
const (
	// OutcomeWritten means the record was delivered directly.
	OutcomeWritten Outcome = "written"
	// OutcomeQueued means direct delivery failed and the record was queued.
	OutcomeQueued Outcome = "queued"
	// OutcomeSuppressed means the minimum-change filter dropped the update.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeDiscarded means the value was not a finite number.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeIgnored means the entity is not registered.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeSkipped means no value was available for a startup or
	// heartbeat write.
	OutcomeSkipped Outcome = "skipped"
)

// WriteEvent describes one handled write.
type WriteEvent struct {
	EntityID       string         `json:"entity_id"`
	Trigger        entity.Trigger `json:"trigger"`
	Outcome        Outcome        `json:"outcome"`
	Value          float64        `json:"value"`
	TimestampNanos int64          `json:"timestamp_ns,omitempty"`
	Duration       time.Duration  `json:"duration_ns"`
	At             time.Time      `json:"at"`
}

// FlushResult describes one flush cycle.
type FlushResult struct {
	// Delivered counts records confirmed during the cycle.
	Delivered int `json:"delivered"`
	// Remaining is the queue length after the cycle.
	Remaining int `json:"remaining"`
	// Err is the submission error that ended the cycle, if any.
	Err error `json:"-"`
	// Error mirrors Err for JSON consumers.
	Error string `json:"error,omitempty"`
	// Interval is the flush interval scheduled after the cycle.
	Interval time.Duration `json:"interval_ns"`
	Duration time.Duration `json:"duration_ns"`
	Drain    bool          `json:"drain"`
	At       time.Time     `json:"at"`
}

// Empty reports whether the cycle found nothing to flush.
func (r FlushResult) Empty() bool {
	return r.Delivered == 0 && r.Err == nil && r.Remaining == 0
}

// Observer receives pipeline events. Implementations must not block.
type Observer interface {
	OnWrite(WriteEvent)
	OnFlush(FlushResult)
}

type noopObserver struct{}

func (noopObserver) OnWrite(WriteEvent)  {}
func (noopObserver) OnFlush(FlushResult) {}

// Observers fans events out to several observers in order.
type Observers []Observer

// OnWrite forwards e to every observer.
func (o Observers) OnWrite(e WriteEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnWrite(e)
		}
	}
}

// OnFlush forwards r to every observer.
func (o Observers) OnFlush(r FlushResult) {
	for _, obs := range o {
		if obs != nil {
			obs.OnFlush(r)
		}
	}
}
