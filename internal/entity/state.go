package entity

import (
	"sync"
	"time"
)

// RuntimeState is the mutable per-entity bookkeeping kept for the
// lifetime of the process.
type RuntimeState struct {
	// LastObservedValue is the most recent valid value seen from the
	// event source, whether or not it was written.
	LastObservedValue *float64 `json:"last_observed_value,omitempty"`

	// LastWriteTime is when a record for this entity was last confirmed
	// delivered. It never moves backwards.
	LastWriteTime time.Time `json:"last_write_time,omitzero"`

	// LastWrittenValue is the value of the confirmed record with the
	// newest measurement timestamp.
	LastWrittenValue          *float64 `json:"last_written_value,omitempty"`
	LastWrittenTimestampNanos int64    `json:"last_written_timestamp_ns,omitempty"`

	// LastHeartbeatCheck is when the heartbeat guard last evaluated this
	// entity. It starts at process start.
	LastHeartbeatCheck time.Time `json:"last_heartbeat_check"`
}

// StateView pairs an entity ID with a copy of its runtime state.
type StateView struct {
	EntityID string `json:"entity_id"`
	RuntimeState
}

// States is the runtime state registry, one entry per registered entity.
// Operations on unknown IDs are ignored.
type States struct {
	mu    sync.RWMutex
	m     map[string]*RuntimeState
	order []string
}

// NewStates creates empty runtime state for every entity in reg.
// start seeds LastHeartbeatCheck so the first heartbeat is due one
// interval after startup.
func NewStates(reg *Registry, start time.Time) *States {
	s := &States{
		m:     make(map[string]*RuntimeState, reg.Len()),
		order: reg.IDs(),
	}
	for _, id := range s.order {
		s.m[id] = &RuntimeState{LastHeartbeatCheck: start}
	}
	return s
}

// Observe records the latest valid value seen for an entity.
func (s *States) Observe(id string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.m[id]; ok {
		st.LastObservedValue = &value
	}
}

// LastObserved returns the cached observed value, if any.
func (s *States) LastObserved(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.m[id]
	if !ok || st.LastObservedValue == nil {
		return 0, false
	}
	return *st.LastObservedValue, true
}

// LastWritten returns the last successfully written value, if any.
func (s *States) LastWritten(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.m[id]
	if !ok || st.LastWrittenValue == nil {
		return 0, false
	}
	return *st.LastWrittenValue, true
}

// RecordWrite updates state after a confirmed delivery.
//
// LastWriteTime only advances. The written value is replaced only when
// tsNanos is not older than the currently recorded one, so replaying an
// old queued record after a newer direct write does not rewind the
// value the minimum-change filter compares against.
func (s *States) RecordWrite(id string, value float64, tsNanos int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.m[id]
	if !ok {
		return
	}
	if at.After(st.LastWriteTime) {
		st.LastWriteTime = at
	}
	if st.LastWrittenValue == nil || tsNanos >= st.LastWrittenTimestampNanos {
		st.LastWrittenValue = &value
		st.LastWrittenTimestampNanos = tsNanos
	}
}

// LastWriteTime returns when the entity was last confirmed delivered.
func (s *States) LastWriteTime(id string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.m[id]; ok {
		return st.LastWriteTime
	}
	return time.Time{}
}

// MarkHeartbeatCheck records a heartbeat evaluation.
func (s *States) MarkHeartbeatCheck(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.m[id]; ok {
		st.LastHeartbeatCheck = at
	}
}

// LastHeartbeatCheck returns when the entity was last evaluated by the
// heartbeat guard.
func (s *States) LastHeartbeatCheck(id string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.m[id]; ok {
		return st.LastHeartbeatCheck
	}
	return time.Time{}
}

// Snapshot returns a deep copy of every entity's state in registration order.
func (s *States) Snapshot() []StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StateView, 0, len(s.order))
	for _, id := range s.order {
		st := *s.m[id]
		if st.LastObservedValue != nil {
			v := *st.LastObservedValue
			st.LastObservedValue = &v
		}
		if st.LastWrittenValue != nil {
			v := *st.LastWrittenValue
			st.LastWrittenValue = &v
		}
		out = append(out, StateView{EntityID: id, RuntimeState: st})
	}
	return out
}

// View returns a copy of one entity's state.
func (s *States) View(id string) (StateView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.m[id]
	if !ok {
		return StateView{}, false
	}
	out := *st
	if out.LastObservedValue != nil {
		v := *out.LastObservedValue
		out.LastObservedValue = &v
	}
	if out.LastWrittenValue != nil {
		v := *out.LastWrittenValue
		out.LastWrittenValue = &v
	}
	return StateView{EntityID: id, RuntimeState: out}, true
}
