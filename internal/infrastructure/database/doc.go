// Package database provides SQLite connectivity for the machine allocator.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations read from any fs.FS (normally the embedded migrations package)
//   - Health checks and lifecycle management
//
// The pool is capped at one connection. SQLite has a single writer anyway,
// and a single connection makes each conditional UPDATE in the machine
// repository a serialised compare-and-swap.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Store.SQLite.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each one runs in its own transaction and is recorded
// in schema_migrations.
package database
