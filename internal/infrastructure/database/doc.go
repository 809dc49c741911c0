// Package database manages the SQLite connection for Hearth Core.
//
// It provides lifecycle management (open, migrate, health check, close)
// around a sql.DB configured for embedded gateway use: WAL journal mode,
// a busy timeout, foreign keys on, and a single writer connection.
//
// Schema migrations are embedded into the binary by the migrations package
// and applied on startup with Migrate().
package database
