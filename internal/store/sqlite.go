package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"timebill/internal/store/migrations"
)

var sqliteDialect = dialect{
	name: migrations.DialectSQLite,
	upsertRaw: `
INSERT INTO activity_log (log_date, duration_seconds, activity, category, productivity, document, processed)
VALUES (?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(log_date, activity, document) DO UPDATE SET
  duration_seconds = excluded.duration_seconds,
  category = excluded.category,
  productivity = excluded.productivity,
  processed = 0,
  updated_at = CURRENT_TIMESTAMP`,
	upsertEntry: `
INSERT INTO time_entries (entry_date, application, task_description, total_seconds, time_units, matter_code, source_hash)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_hash) DO UPDATE SET
  total_seconds = excluded.total_seconds,
  time_units = excluded.time_units,
  task_description = excluded.task_description,
  matter_code = excluded.matter_code,
  updated_at = CURRENT_TIMESTAMP`,
	upsertProcessed: `
INSERT INTO processed_time_entries (original_entry_id, entry_date, application, task_description, time_units, matter_code, status, notes, source_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_hash, entry_date) DO UPDATE SET
  original_entry_id = excluded.original_entry_id,
  application = excluded.application,
  task_description = excluded.task_description,
  time_units = excluded.time_units,
  matter_code = excluded.matter_code,
  status = excluded.status,
  notes = excluded.notes,
  updated_at = CURRENT_TIMESTAMP`,
	upsertMetadata: `
INSERT INTO sync_metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = CURRENT_TIMESTAMP`,
}

// OpenSQLite opens (and migrates) a SQLite database at path. Use ":memory:"
// for an in-memory store in tests.
func OpenSQLite(path string, log *slog.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Single-owner store: one writer at a time keeps the read-compute-write
	// aggregation transaction serial with concurrent fetch upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", slog.String("path", path))
	return &SQLStore{db: db, d: sqliteDialect, log: log}, nil
}
