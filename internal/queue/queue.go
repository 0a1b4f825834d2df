package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is the persistent failure queue. All methods are safe for
// concurrent use.
type Queue struct {
	path   string
	logger Logger

	mu       sync.Mutex // protects items and inflight
	items    []Record
	inflight []Record

	// persistMu serialises file writes. Snapshots are taken under mu so
	// each write is a consistent view.
	persistMu sync.Mutex
}

// Open loads the queue stored at path.
//
// Load problems never fail Open: a missing file yields an empty queue,
// and an unreadable or corrupt file is logged and replaced by an empty
// queue. Records that fail validation are dropped individually.
//
// Parameters:
//   - path: Queue file location; its directory is created on first persist
//   - logger: Destination for load diagnostics, nil for none
//
// Returns:
//   - *Queue: Loaded queue
//   - error: ErrNoPath if path is empty
func Open(path string, logger Logger) (*Queue, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	if logger == nil {
		logger = noopLogger{}
	}

	q := &Queue{
		path:   path,
		logger: logger,
	}
	q.items = q.load()
	return q, nil
}

func (q *Queue) load() []Record {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		q.logger.Info("no queue file, starting empty", "path", q.path)
		return nil
	}
	if err != nil {
		q.logger.Error("reading queue file, starting empty", "path", q.path, "error", err)
		return nil
	}

	var raw []Record
	if err := json.Unmarshal(data, &raw); err != nil {
		q.logger.Error("queue file corrupt, starting empty", "path", q.path, "error", err)
		return nil
	}

	seen := make(map[string]bool, len(raw))
	records := make([]Record, 0, len(raw))
	for i, r := range raw {
		if !r.valid() {
			q.logger.Warn("dropping invalid queued record", "index", i, "entity_id", r.EntityID)
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if seen[r.ID] {
			q.logger.Warn("dropping duplicate queued record", "index", i, "id", r.ID)
			continue
		}
		seen[r.ID] = true
		records = append(records, r)
	}

	q.logger.Info("queue loaded", "path", q.path, "records", len(records))
	return records
}

// Path returns the queue file location.
func (q *Queue) Path() string {
	return q.path
}

// Enqueue appends a record and persists the queue.
//
// The record is queued even when persisting fails; the returned error
// wraps ErrPersistFailed in that case.
func (q *Queue) Enqueue(r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	return q.Persist()
}

// TakeBatch moves up to max records from the head of the queue into the
// in-flight slot and returns them in order. It returns nil when the queue
// is empty or a batch is already in flight.
func (q *Queue) TakeBatch(max int) []Record {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inflight) > 0 || len(q.items) == 0 {
		return nil
	}

	n := min(max, len(q.items))
	batch := make([]Record, n)
	copy(batch, q.items[:n])
	q.items = append([]Record(nil), q.items[n:]...)
	q.inflight = batch

	return append([]Record(nil), batch...)
}

// Commit removes a delivered batch from the in-flight slot. The caller
// persists afterwards.
func (q *Queue) Commit(batch []Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight = without(q.inflight, batch)
}

// ReturnToFront puts a failed batch back at the head of the queue,
// ahead of anything enqueued since it was taken, preserving its order.
func (q *Queue) ReturnToFront(batch []Record) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight = without(q.inflight, batch)

	present := make(map[string]bool, len(q.items))
	for _, r := range q.items {
		present[r.ID] = true
	}
	head := make([]Record, 0, len(batch))
	for _, r := range batch {
		if !present[r.ID] {
			head = append(head, r)
		}
	}

	q.items = append(head, q.items...)
}

// without returns records minus those whose IDs appear in drop.
func without(records, drop []Record) []Record {
	if len(drop) == 0 || len(records) == 0 {
		return records
	}
	ids := make(map[string]bool, len(drop))
	for _, r := range drop {
		ids[r.ID] = true
	}
	var kept []Record
	for _, r := range records {
		if !ids[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept
}

// Len returns the number of undelivered records, including any batch in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight) + len(q.items)
}

// InFlight returns the number of records currently being submitted.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Snapshot returns a copy of every undelivered record in replay order:
// the in-flight batch first, then the queued records.
func (q *Queue) Snapshot() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []Record {
	out := make([]Record, 0, len(q.inflight)+len(q.items))
	out = append(out, q.inflight...)
	out = append(out, q.items...)
	return out
}

// Persist atomically writes the current contents to the queue file.
func (q *Queue) Persist() error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	records := q.snapshotLocked()
	q.mu.Unlock()

	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPersistFailed, err)
	}

	if err := writeFileAtomic(q.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// Make the rename itself durable. Not every platform supports
	// syncing a directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
