// Package queue implements the persistent failure queue: an ordered,
// durable list of records whose delivery to the time-series store failed.
//
// The queue lives in memory and is mirrored to a single JSON file. Every
// persist writes a complete snapshot to a temporary file in the same
// directory, fsyncs it and renames it over the previous file, so a crash
// mid-write leaves either the old or the new snapshot on disk.
//
// A missing file is an empty queue. An unreadable or corrupt file is
// logged and also treated as empty; it is overwritten by the next persist.
//
// # Batches
//
// TakeBatch moves records from the head of the queue into an in-flight
// slot. In-flight records are still part of every persisted snapshot, so
// a crash during a submission replays them on the next start. Commit
// drops them after a confirmed delivery; ReturnToFront puts them back at
// the head in their original order.
package queue
