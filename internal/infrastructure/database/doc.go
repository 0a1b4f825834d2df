// Package database provides SQLite connectivity for the local snapshot store.
//
// The ingestion pipeline keeps the last state it saw for every entity in
// SQLite so point lookups can be answered while the event source is
// unreachable or still starting up.
//
// This package manages:
//   - Database connection with WAL mode
//   - Forward-only schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
