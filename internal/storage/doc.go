// Package storage persists job definitions so the daemon survives restarts.
//
// Drivers:
//   - file: snapshot plus append-only journal, no external dependencies
//   - sqlite: a single-table SQLite database (modernc.org/sqlite, pure Go)
//
// The scheduler never reads from storage at runtime; jobs are loaded once at
// startup and every committed mutation is written through.
package storage
