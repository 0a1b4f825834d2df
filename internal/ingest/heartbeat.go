package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
)

// HeartbeatConfig controls the heartbeat guard.
type HeartbeatConfig struct {
	// Poll is how often entities are evaluated.
	Poll time.Duration
	// Threshold is the time since an entity's last evaluation after
	// which a heartbeat is written.
	Threshold time.Duration
}

// Heartbeat writes every entity's last known value at least once per
// Threshold, so consumers can tell a quiet sensor from a dead one.
type Heartbeat struct {
	deps   Deps
	cfg    HeartbeatConfig
	writer *Writer
	lookup Lookup

	slot chan struct{}
}

// NewHeartbeat creates a heartbeat guard that writes through w.
//
// lookup supplies a value for entities that have not reported since
// startup; it may be nil, in which case those entities are skipped.
func NewHeartbeat(w *Writer, lookup Lookup, cfg HeartbeatConfig) (*Heartbeat, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: writer", ErrMissingDependency)
	}
	if cfg.Poll <= 0 || cfg.Threshold <= 0 {
		return nil, fmt.Errorf("%w: poll %v, threshold %v", ErrInvalidConfig, cfg.Poll, cfg.Threshold)
	}

	return &Heartbeat{
		deps:   w.deps,
		cfg:    cfg,
		writer: w,
		lookup: lookup,
		slot:   make(chan struct{}, 1),
	}, nil
}

// Run evaluates entities every Poll until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := h.deps.Clock.NewTicker(h.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			h.Check(ctx)
		}
	}
}

// Check writes a heartbeat for every entity whose last evaluation is at
// least Threshold ago. The evaluation time is recorded whatever the
// outcome. It returns the number of entities evaluated, or zero if a
// check is already running.
func (h *Heartbeat) Check(ctx context.Context) int {
	select {
	case h.slot <- struct{}{}:
	default:
		return 0
	}
	defer func() { <-h.slot }()

	evaluated := 0
	for _, id := range h.deps.Registry.IDs() {
		if ctx.Err() != nil {
			break
		}

		now := h.deps.Clock.Now()
		if now.Sub(h.deps.States.LastHeartbeatCheck(id)) < h.cfg.Threshold {
			continue
		}

		h.beat(ctx, id)
		h.deps.States.MarkHeartbeatCheck(id, now)
		evaluated++
	}
	return evaluated
}

func (h *Heartbeat) beat(ctx context.Context, id string) {
	if value, ok := h.deps.States.LastObserved(id); ok {
		h.writer.WriteHeartbeat(ctx, id, value)
		return
	}

	if h.lookup != nil {
		change, found, err := h.lookup.CurrentValue(ctx, id)
		if err != nil {
			h.deps.Logger.Warn("heartbeat lookup failed", "entity_id", id, "error", err)
		}
		if err == nil && found {
			if value, ok := coerceValue(change.Value); ok {
				h.deps.States.Observe(id, value)
				h.writer.WriteHeartbeat(ctx, id, value)
				return
			}
		}
	}

	h.deps.Logger.Debug("no value for heartbeat", "entity_id", id)
	h.writer.report(WriteEvent{EntityID: id, Trigger: entity.TriggerHeartbeat, Outcome: OutcomeSkipped})
}
