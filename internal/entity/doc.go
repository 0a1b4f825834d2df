// Package entity holds the monitored entity registry and the per-entity
// runtime state shared by the write path, the flush scheduler and the
// heartbeat guard.
//
// The Registry is built once from configuration and never changes for
// the lifetime of the process. States is created at startup with one
// entry per registered entity and is never persisted: after a restart
// every entity starts with no observed or written value.
//
// # Thread Safety
//
// Registry is immutable after construction. All States methods are safe
// for concurrent use.
package entity
