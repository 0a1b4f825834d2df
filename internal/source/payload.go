package source

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is an ioBroker state as relayed over MQTT.
type State struct {
	// Val is the raw value: number, bool, string or null.
	Val any `json:"val"`

	// TS is the update time, usually epoch milliseconds.
	TS any `json:"ts,omitempty"`

	// LC is the time of the last actual value change.
	LC any `json:"lc,omitempty"`

	Ack bool `json:"ack"`
}

// lookupRequest is published to the request topic.
type lookupRequest struct {
	RequestID string `json:"request_id"`
	EntityID  string `json:"entity_id"`
}

// lookupResponse is received on the response topic.
type lookupResponse struct {
	RequestID string `json:"request_id"`
	EntityID  string `json:"entity_id"`
	Found     bool   `json:"found"`
	State     *State `json:"state,omitempty"`
}

// decode parses JSON keeping numbers as json.Number so epoch
// milliseconds survive without float rounding.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// sourceMillis returns the state's update time as epoch milliseconds, or
// zero if it is not numeric.
func (s State) sourceMillis() int64 {
	switch ts := s.TS.(type) {
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return n
		}
		if f, err := ts.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(ts)
	case int64:
		return ts
	}
	return 0
}
