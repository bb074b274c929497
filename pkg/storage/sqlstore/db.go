// Package sqlstore is a SQLite-backed implementation of storage.Storage,
// adapted from the teacher's pkg/persistence singleton-database pattern:
// WAL journaling, a busy timeout so concurrent access blocks instead of
// failing with SQLITE_BUSY, and a single-writer connection pool (SQLite
// allows only one writer at a time regardless of pool size).
package sqlstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"vkteamsbot/internal/logx"
)

// Store is the SQLite-backed storage.Storage implementation.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) a SQLite database at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite permits only one writer; avoid pool contention errors
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("storage.sqlstore")}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}
