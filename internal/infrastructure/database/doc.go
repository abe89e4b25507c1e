// Package database provides SQLite connectivity for the readings store.
//
// This package manages:
//   - Opening a connection with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks and lifecycle
//
// The push-path flusher and the reconciliation poller each hold their own
// *DB on the same file. Each handle allows a single open connection, so
// writes on one handle are serialised and the two handles coordinate
// through SQLite's own locking.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. Identifiers that cannot be
// parameterised (table and column names) are checked against a closed
// whitelist by the store package before they reach SQL.
package database
