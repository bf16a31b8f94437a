package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"timebill/internal/store/migrations"
)

var mysqlDialect = dialect{
	name: migrations.DialectMySQL,
	upsertRaw: `
INSERT INTO activity_log (log_date, duration_seconds, activity, category, productivity, document, processed)
VALUES (?, ?, ?, ?, ?, ?, 0)
ON DUPLICATE KEY UPDATE
  duration_seconds = VALUES(duration_seconds),
  category = VALUES(category),
  productivity = VALUES(productivity),
  processed = 0,
  updated_at = CURRENT_TIMESTAMP(6)`,
	upsertEntry: `
INSERT INTO time_entries (entry_date, application, task_description, total_seconds, time_units, matter_code, source_hash)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  total_seconds = VALUES(total_seconds),
  time_units = VALUES(time_units),
  task_description = VALUES(task_description),
  matter_code = VALUES(matter_code),
  updated_at = CURRENT_TIMESTAMP(6)`,
	upsertProcessed: `
INSERT INTO processed_time_entries (original_entry_id, entry_date, application, task_description, time_units, matter_code, status, notes, source_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  original_entry_id = VALUES(original_entry_id),
  application = VALUES(application),
  task_description = VALUES(task_description),
  time_units = VALUES(time_units),
  matter_code = VALUES(matter_code),
  status = VALUES(status),
  notes = VALUES(notes),
  updated_at = CURRENT_TIMESTAMP(6)`,
	upsertMetadata: "INSERT INTO sync_metadata (`key`, value) VALUES (?, ?)\n" +
		"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = CURRENT_TIMESTAMP(6)",
}

// OpenMySQL opens (and migrates) a MySQL-backed store. The DSN should
// include parseTime=true and multiStatements=true, e.g.
// user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func OpenMySQL(ctx context.Context, dsn string, log *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql: DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	if err := migrations.Up(db, migrations.DialectMySQL); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("mysql store ready")
	return &SQLStore{db: db, d: mysqlDialect, log: log}, nil
}
