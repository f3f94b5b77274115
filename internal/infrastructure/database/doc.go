// Package database provides SQLite connectivity for the matrix bridge's
// audit journal.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded forward-only schema migrations applied at startup
//   - A single-connection pool sized for SQLite's one writer
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations only move forward: new columns must be NULLABLE or have
// DEFAULT values. SchemaVersion reports the newest one applied.
package database
