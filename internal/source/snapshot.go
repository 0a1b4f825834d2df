package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// SnapshotStore keeps the latest state seen for each entity.
type SnapshotStore interface {
	// Save records st unless a snapshot with a newer source time exists.
	Save(ctx context.Context, entityID string, st State) error
	// Load returns the stored state. found is false when none exists.
	Load(ctx context.Context, entityID string) (st State, found bool, err error)
}

// SQLiteSnapshotStore implements SnapshotStore using the entity_snapshots table.
type SQLiteSnapshotStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLiteSnapshotStore creates a snapshot store.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteSnapshotStore: Store ready for use
func NewSQLiteSnapshotStore(db *sql.DB) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db, clock: clockwork.NewRealClock()}
}

// Save upserts the snapshot for an entity. An older source time never
// replaces a newer one.
func (r *SQLiteSnapshotStore) Save(ctx context.Context, entityID string, st State) error {
	if entityID == "" {
		return fmt.Errorf("entity id is required")
	}

	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entity_snapshots (entity_id, state_json, source_ts, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET
		     state_json = excluded.state_json,
		     source_ts = excluded.source_ts,
		     updated_at = excluded.updated_at
		 WHERE excluded.source_ts >= entity_snapshots.source_ts`,
		entityID,
		string(stateJSON),
		st.sourceMillis(),
		r.clock.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for an entity.
func (r *SQLiteSnapshotStore) Load(ctx context.Context, entityID string) (State, bool, error) {
	var stateJSON string
	err := r.db.QueryRowContext(ctx,
		"SELECT state_json FROM entity_snapshots WHERE entity_id = ?",
		entityID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("querying snapshot: %w", err)
	}

	var st State
	if err := decode([]byte(stateJSON), &st); err != nil {
		return State{}, false, fmt.Errorf("unmarshalling snapshot: %w", err)
	}
	return st, true, nil
}

// Count returns the number of stored snapshots.
func (r *SQLiteSnapshotStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}
