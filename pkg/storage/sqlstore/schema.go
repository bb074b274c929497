package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
)

// currentSchemaVersion is bumped whenever a migration is added below,
// following the teacher's pkg/persistence versioned-migration convention.
const currentSchemaVersion = 1

func migrate(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == currentSchemaVersion {
		return nil
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d: %w", v, err)
		}
		if err := setSchemaVersion(db, v); err != nil {
			return fmt.Errorf("record schema version %d: %w", v, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	return fmt.Errorf("unknown migration version: %d", version)
}

func schemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			message_id TEXT,
			user_id TEXT,
			text TEXT,
			reply_to TEXT,
			forwarded_from TEXT,
			file_attachments TEXT,
			member_ids TEXT,
			callback_data TEXT,
			ts DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
			text TEXT NOT NULL,
			ts DATETIME NOT NULL
		)`,

		// Full-text index over message bodies, kept in sync by triggers
		// below; the same contentless-external-content FTS5 pattern the
		// teacher's knowledge-graph migration uses for nodes_fts.
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			text, content=messages, content_rowid=id
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, text) VALUES (new.id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
			UPDATE messages_fts SET text = new.text WHERE rowid = new.id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
			DELETE FROM messages_fts WHERE rowid = old.id;
		END`,
	}
	for _, trig := range triggers {
		if _, err := db.Exec(trig); err != nil {
			return fmt.Errorf("create fts trigger: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_chat_ts ON events(chat_id, ts DESC)",
		"CREATE INDEX IF NOT EXISTS idx_events_event_id ON events(event_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, ts DESC)",
		"CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)",
	}
	for _, idx := range indices {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return setSchemaVersion(db, currentSchemaVersion)
}
