// Package source connects the pipeline to ioBroker states relayed over MQTT.
//
// State changes arrive on {prefix}/state/{entityId} as JSON:
//
//	{"val": 21.5, "ts": 1700000000000, "lc": 1700000000000, "ack": true}
//
// Each one is saved as the entity's latest snapshot and handed to the
// change handler.
//
// # Point lookups
//
// CurrentValue publishes {"request_id", "entity_id"} to
// {prefix}/request/get and waits for the relay to answer on
// {prefix}/response/{request_id}:
//
//	{"request_id": "...", "entity_id": "...", "found": true, "state": {"val": 3}}
//
// When no answer arrives within the lookup timeout, or publishing fails,
// the last snapshot stored in SQLite answers instead.
package source
