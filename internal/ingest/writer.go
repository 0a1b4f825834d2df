package ingest

import (
	"context"
	"math"
	"sync"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

// Writer is the direct write path for change, startup and heartbeat
// records.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writes for the same entity
//     are serialized; different entities proceed independently.
type Writer struct {
	deps Deps

	// locks is built once from the registry and never modified.
	locks map[string]*sync.Mutex
}

// NewWriter creates a writer.
//
// Parameters:
//   - deps: Registry, States, Sink and Queue are required
//
// Returns:
//   - *Writer: Ready-to-use writer
//   - error: ErrMissingDependency if a required collaborator is nil
func NewWriter(deps Deps) (*Writer, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	locks := make(map[string]*sync.Mutex, deps.Registry.Len())
	for _, id := range deps.Registry.IDs() {
		locks[id] = &sync.Mutex{}
	}

	return &Writer{deps: deps, locks: locks}, nil
}

// HandleChange processes one change notification from the event source.
func (w *Writer) HandleChange(ctx context.Context, c Change) Outcome {
	e, ok := w.deps.Registry.Get(c.EntityID)
	if !ok {
		w.deps.Logger.Debug("ignoring change for unregistered entity", "entity_id", c.EntityID)
		return w.report(WriteEvent{EntityID: c.EntityID, Trigger: entity.TriggerChange, Outcome: OutcomeIgnored})
	}

	value, ok := coerceValue(c.Value)
	if !ok {
		w.deps.Logger.Warn("discarding non-numeric value",
			"entity_id", e.ID,
			"value", c.Value,
		)
		return w.report(WriteEvent{EntityID: e.ID, Trigger: entity.TriggerChange, Outcome: OutcomeDiscarded})
	}

	w.deps.States.Observe(e.ID, value)
	ts := resolveTimestamp(c.UpdateTime, w.deps.Clock.Now())

	return w.write(ctx, e, value, entity.TriggerChange, ts)
}

// WriteHeartbeat writes value for an entity with the heartbeat trigger,
// timestamped now. The minimum-change filter does not apply.
func (w *Writer) WriteHeartbeat(ctx context.Context, entityID string, value float64) Outcome {
	return w.writeForced(ctx, entityID, value, entity.TriggerHeartbeat)
}

// WriteStartup performs one unconditional startup write per registered
// entity using the event source's current value. Entities the source
// has no usable value for are skipped.
//
// Returns:
//   - map[Outcome]int: Number of entities per outcome
//   - error: ctx.Err() if ctx ended before every entity was handled
func (w *Writer) WriteStartup(ctx context.Context, lookup Lookup) (map[Outcome]int, error) {
	counts := make(map[Outcome]int)

	for _, id := range w.deps.Registry.IDs() {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		change, found, err := lookup.CurrentValue(ctx, id)
		if err != nil {
			w.deps.Logger.Warn("startup lookup failed", "entity_id", id, "error", err)
		}
		if err != nil || !found {
			counts[w.report(WriteEvent{EntityID: id, Trigger: entity.TriggerStartup, Outcome: OutcomeSkipped})]++
			continue
		}

		value, ok := coerceValue(change.Value)
		if !ok {
			w.deps.Logger.Warn("discarding non-numeric startup value", "entity_id", id, "value", change.Value)
			counts[w.report(WriteEvent{EntityID: id, Trigger: entity.TriggerStartup, Outcome: OutcomeDiscarded})]++
			continue
		}

		w.deps.States.Observe(id, value)
		counts[w.writeForced(ctx, id, value, entity.TriggerStartup)]++
	}

	w.deps.Logger.Info("startup writes complete",
		"written", counts[OutcomeWritten],
		"queued", counts[OutcomeQueued],
		"skipped", counts[OutcomeSkipped]+counts[OutcomeDiscarded],
	)
	return counts, nil
}

func (w *Writer) writeForced(ctx context.Context, entityID string, value float64, trigger entity.Trigger) Outcome {
	e, ok := w.deps.Registry.Get(entityID)
	if !ok {
		return w.report(WriteEvent{EntityID: entityID, Trigger: trigger, Outcome: OutcomeIgnored})
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return w.report(WriteEvent{EntityID: entityID, Trigger: trigger, Outcome: OutcomeDiscarded})
	}
	return w.write(ctx, e, value, trigger, w.deps.Clock.Now().UnixNano())
}

// write delivers one record directly, queueing it on failure.
func (w *Writer) write(ctx context.Context, e entity.Entity, value float64, trigger entity.Trigger, tsNanos int64) Outcome {
	mu := w.locks[e.ID]
	mu.Lock()
	defer mu.Unlock()

	ev := WriteEvent{EntityID: e.ID, Trigger: trigger, Value: value, TimestampNanos: tsNanos}

	if trigger == entity.TriggerChange && w.suppressed(e, value) {
		w.deps.Logger.Debug("change below min_delta", "entity_id", e.ID, "value", value)
		ev.Outcome = OutcomeSuppressed
		return w.report(ev)
	}

	rec := queue.NewRecord(e, value, trigger, tsNanos)
	start := w.deps.Clock.Now()
	err := w.deps.Sink.Submit(ctx, []string{rec.Encode()})
	ev.Duration = w.deps.Clock.Since(start)

	if err == nil {
		w.deps.States.RecordWrite(e.ID, value, tsNanos, w.deps.Clock.Now())
		ev.Outcome = OutcomeWritten
		return w.report(ev)
	}

	w.deps.Logger.Warn("direct write failed, queueing record",
		"entity_id", e.ID,
		"trigger", string(trigger),
		"error", err,
	)
	if perr := w.deps.Queue.Enqueue(rec); perr != nil {
		w.deps.Logger.Error("persisting failure queue", "error", perr)
	}
	ev.Outcome = OutcomeQueued
	return w.report(ev)
}

// suppressed applies the minimum-change filter. It only acts once a
// value has been successfully written for the entity.
func (w *Writer) suppressed(e entity.Entity, value float64) bool {
	if e.MinDelta == nil {
		return false
	}
	prev, ok := w.deps.States.LastWritten(e.ID)
	if !ok {
		return false
	}
	return math.Abs(value-prev) < *e.MinDelta
}

func (w *Writer) report(ev WriteEvent) Outcome {
	if ev.At.IsZero() {
		ev.At = w.deps.Clock.Now()
	}
	w.deps.Observer.OnWrite(ev)
	return ev.Outcome
}
