// Package ingest is the runtime pipeline between the event source and the
// time-series store.
//
// Three components share one Deps bundle:
//
//   - Writer reacts to entity changes. It coerces the value, derives the
//     timestamp, applies the minimum-change filter and attempts a direct
//     delivery. Failed deliveries go to the failure queue.
//   - Scheduler flushes the failure queue in batches on a timer whose
//     interval doubles after each failed cycle, up to a ceiling, and
//     resets after a success. Drain runs one bounded cycle for shutdown.
//   - Heartbeat writes the last known value of every entity at least
//     once per interval, bypassing the filter.
//
// # Concurrency
//
// Direct writes are serialized per entity. Flush cycles are serialized by
// a single-slot guard: periodic cycles skip while one is running, Drain
// waits for the slot until its context expires. Heartbeat checks are
// guarded the same way.
//
// # Time
//
// All components read time from a clockwork.Clock so tests can drive
// timers with a fake clock.
package ingest
