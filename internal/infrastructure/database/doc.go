// Package database provides the SQLite connection used for speaker state
// history.
//
// This package manages:
//   - Connection setup with WAL mode for concurrent reads during writes
//   - Schema migrations embedded into the binary
//   - Connection lifecycle and health checks
//
// SQLite is opened with a single writer connection and a busy timeout so
// concurrent history reads never surface "database is locked" errors.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.History.Path,
//	    WALMode:     cfg.History.WALMode,
//	    BusyTimeout: cfg.History.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. New columns must be nullable or carry a
// default, and every migration ships both .up.sql and .down.sql files.
package database
