// Package store persists raw activity records and time entries. Two dialects
// are supported behind the same implementation: SQLite for the default
// single-owner database and MySQL for a shared server. Everything except the
// upsert statements is common SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"timebill/internal/domain"
	"timebill/internal/ports"
)

// lastDayFetchKey is the sync_metadata key recording the most recent
// current-day fetch as "<date>|<RFC3339 timestamp>".
const lastDayFetchKey = "last_day_fetch"

// dialect carries the statements that differ between SQLite and MySQL.
// Conflict handling is the only divergence: SQLite uses ON CONFLICT ... DO
// UPDATE, MySQL uses ON DUPLICATE KEY UPDATE.
type dialect struct {
	name            string
	upsertRaw       string
	upsertEntry     string
	upsertProcessed string
	upsertMetadata  string
}

// SQLStore implements ports.Store over database/sql for a given dialect.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	log *slog.Logger
}

var _ ports.Store = (*SQLStore)(nil)

// UpsertRawRecords writes one batch of fetched telemetry. Re-observed
// (date, activity, document) triples are updated in place and reset to
// unprocessed so the next aggregation run folds them in again.
func (s *SQLStore) UpsertRawRecords(ctx context.Context, records []domain.RawActivityRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.d.upsertRaw)
	if err != nil {
		return 0, fmt.Errorf("preparing raw upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.LogDate, r.DurationSeconds, r.Activity, r.Category, r.Productivity, r.Document,
		); err != nil {
			return 0, fmt.Errorf("upserting raw record %s/%s: %w", r.LogDate, r.Activity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing raw upsert: %w", err)
	}
	s.log.Debug("upserted raw records", slog.Int("count", len(records)))
	return len(records), nil
}

// MarkDateStale resets every record on the date to unprocessed. Used right
// before a refetch so the whole date is re-aggregated against fresh data.
func (s *SQLStore) MarkDateStale(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activity_log SET processed = 0, updated_at = CURRENT_TIMESTAMP WHERE log_date = ?`, date)
	if err != nil {
		return 0, fmt.Errorf("marking %s stale: %w", date, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func unprocessedQuery(scope domain.Scope) (string, []any) {
	q := `SELECT log_date, duration_seconds, activity, category, productivity, document, processed
FROM activity_log WHERE processed = 0`
	var args []any
	if scope.Start != "" {
		q += " AND log_date >= ?"
		args = append(args, scope.Start)
	}
	if scope.End != "" {
		q += " AND log_date <= ?"
		args = append(args, scope.End)
	}
	q += " ORDER BY log_date, activity, document"
	return q, args
}

// UnprocessedRecords returns the unprocessed window, optionally bounded by
// the scope's dates.
func (s *SQLStore) UnprocessedRecords(ctx context.Context, scope domain.Scope) ([]domain.RawActivityRecord, error) {
	q, args := unprocessedQuery(scope)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting unprocessed records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Aggregate runs one aggregation transaction: select the unprocessed window,
// let build compute the entries and the consumed keys, upsert the entries
// keyed on source_hash, and flip the consumed records to processed. A failed
// commit leaves every flag and entry unchanged.
func (s *SQLStore) Aggregate(ctx context.Context, scope domain.Scope, build ports.BuildFunc) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	q, args := unprocessedQuery(scope)
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("selecting unprocessed records: %w", err)
	}
	records, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return 0, 0, err
	}

	entries, consumed := build(records)
	if len(entries) == 0 {
		return 0, 0, nil
	}

	entryStmt, err := tx.PrepareContext(ctx, s.d.upsertEntry)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing entry upsert: %w", err)
	}
	defer entryStmt.Close()
	for _, e := range entries {
		if _, err := entryStmt.ExecContext(ctx,
			e.EntryDate, e.Application, e.TaskDescription, e.TotalSeconds, e.TimeUnits,
			nullIfEmpty(e.MatterCode), e.SourceHash,
		); err != nil {
			return 0, 0, fmt.Errorf("upserting entry %s: %w", e.SourceHash, err)
		}
	}

	markStmt, err := tx.PrepareContext(ctx,
		`UPDATE activity_log SET processed = 1, updated_at = CURRENT_TIMESTAMP
WHERE log_date = ? AND activity = ? AND document = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing processed update: %w", err)
	}
	defer markStmt.Close()
	for _, k := range consumed {
		if _, err := markStmt.ExecContext(ctx, k.LogDate, k.Activity, k.Document); err != nil {
			return 0, 0, fmt.Errorf("marking record processed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing aggregation: %w", err)
	}
	return len(entries), len(consumed), nil
}

const entryColumns = `entry_id, entry_date, application, task_description, total_seconds, time_units,
COALESCE(matter_code, ''), status, COALESCE(notes, ''), source_hash, created_at, updated_at`

// EntryByID returns the entry or ports.ErrNotFound.
func (s *SQLStore) EntryByID(ctx context.Context, id int64) (*domain.TimeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE entry_id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry %d: %w", id, err)
	}
	return e, nil
}

// EntriesByDate returns the date's entries, largest first.
func (s *SQLStore) EntriesByDate(ctx context.Context, date string) ([]domain.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE entry_date = ? ORDER BY total_seconds DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("selecting entries for %s: %w", date, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesByStatus returns entries with the given status, newest date first.
func (s *SQLStore) EntriesByStatus(ctx context.Context, status string) ([]domain.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE status = ? ORDER BY entry_date DESC, total_seconds DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("selecting %s entries: %w", status, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// UpdateEntry applies a partial update of operator-owned fields. The
// statement shape is fixed; absent fields pass through unchanged via
// COALESCE. Aggregation totals are never touched here.
func (s *SQLStore) UpdateEntry(ctx context.Context, id int64, patch domain.EntryPatch) error {
	if patch.IsZero() {
		return errors.New("no fields to update")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE time_entries
SET status = COALESCE(?, status), notes = COALESCE(?, notes), updated_at = CURRENT_TIMESTAMP
WHERE entry_id = ?`,
		nullString(patch.Status), nullString(patch.Notes), id)
	if err != nil {
		return fmt.Errorf("updating entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports zero affected rows for no-op value changes too, so
		// confirm the entry is actually missing before reporting not-found.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM time_entries WHERE entry_id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ports.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking entry %d: %w", id, err)
		}
	}
	return nil
}

// RevertEntry undoes an entry: the raw records that built it (selected by
// match over the entry's date and application) return to the unprocessed
// window, the provenance row is dropped, and the entry is deleted, all in
// one transaction.
func (s *SQLStore) RevertEntry(ctx context.Context, id int64, match func(domain.RawActivityRecord) bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE entry_id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading entry %d: %w", id, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT log_date, duration_seconds, activity, category, productivity, document, processed
FROM activity_log WHERE log_date = ? AND activity = ?`,
		entry.EntryDate, entry.Application)
	if err != nil {
		return fmt.Errorf("selecting raw records: %w", err)
	}
	records, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return err
	}

	resetStmt, err := tx.PrepareContext(ctx,
		`UPDATE activity_log SET processed = 0, updated_at = CURRENT_TIMESTAMP
WHERE log_date = ? AND activity = ? AND document = ?`)
	if err != nil {
		return fmt.Errorf("preparing reset: %w", err)
	}
	defer resetStmt.Close()
	for _, r := range records {
		if !match(r) {
			continue
		}
		if _, err := resetStmt.ExecContext(ctx, r.LogDate, r.Activity, r.Document); err != nil {
			return fmt.Errorf("resetting record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_time_entries WHERE source_hash = ? AND entry_date = ?`,
		entry.SourceHash, entry.EntryDate); err != nil {
		return fmt.Errorf("deleting provenance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM time_entries WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("deleting entry %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing revert: %w", err)
	}
	s.log.Info("reverted time entry",
		slog.Int64("entry_id", id), slog.String("date", entry.EntryDate))
	return nil
}

// UpsertProcessedEntry records submission provenance keyed by
// (source_hash, entry_date).
func (s *SQLStore) UpsertProcessedEntry(ctx context.Context, e domain.ProcessedTimeEntry) error {
	status := e.Status
	if status == "" {
		status = domain.StatusSubmitted
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertProcessed,
		e.OriginalEntryID, e.EntryDate, e.Application, e.TaskDescription, e.TimeUnits,
		nullIfEmpty(e.MatterCode), status, nullIfEmpty(e.Notes), e.SourceHash)
	if err != nil {
		return fmt.Errorf("upserting processed entry %s: %w", e.SourceHash, err)
	}
	return nil
}

// ProcessedEntries returns submission provenance, optionally for one date.
func (s *SQLStore) ProcessedEntries(ctx context.Context, date string) ([]domain.ProcessedTimeEntry, error) {
	q := `SELECT id, original_entry_id, entry_date, application, task_description, time_units,
COALESCE(matter_code, ''), status, COALESCE(notes, ''), source_hash, created_at, updated_at
FROM processed_time_entries`
	var args []any
	if date != "" {
		q += " WHERE entry_date = ?"
		args = append(args, date)
	}
	q += " ORDER BY entry_date DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting processed entries: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedTimeEntry
	for rows.Next() {
		var e domain.ProcessedTimeEntry
		var matter, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.OriginalEntryID, &e.EntryDate, &e.Application,
			&e.TaskDescription, &e.TimeUnits, &matter, &e.Status, &notes,
			&e.SourceHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning processed entry: %w", err)
		}
		e.MatterCode = matter.String
		e.Notes = notes.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetLastDayFetch records when a date was last refreshed from the upstream
// API, for the minimum-refetch-interval check.
func (s *SQLStore) SetLastDayFetch(ctx context.Context, date string, at time.Time) error {
	value := date + "|" + at.UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, s.d.upsertMetadata, lastDayFetchKey, value); err != nil {
		return fmt.Errorf("recording last fetch: %w", err)
	}
	return nil
}

// LastDayFetch returns the most recently refreshed date and when it was
// fetched. A store that has never fetched returns zero values and no error.
func (s *SQLStore) LastDayFetch(ctx context.Context) (string, time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		s.selectMetadata(), lastDayFetchKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading last fetch: %w", err)
	}
	date, tsStr, ok := strings.Cut(value, "|")
	if !ok {
		return "", time.Time{}, fmt.Errorf("malformed last fetch value %q", value)
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed last fetch timestamp %q: %w", tsStr, err)
	}
	return date, ts, nil
}

func (s *SQLStore) selectMetadata() string {
	if s.d.name == "mysql" {
		return "SELECT value FROM sync_metadata WHERE `key` = ?"
	}
	return `SELECT value FROM sync_metadata WHERE key = ?`
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func scanRecords(rows *sql.Rows) ([]domain.RawActivityRecord, error) {
	var out []domain.RawActivityRecord
	for rows.Next() {
		var r domain.RawActivityRecord
		if err := rows.Scan(&r.LogDate, &r.DurationSeconds, &r.Activity, &r.Category,
			&r.Productivity, &r.Document, &r.Processed); err != nil {
			return nil, fmt.Errorf("scanning raw record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.TimeEntry, error) {
	var e domain.TimeEntry
	var matter, notes string
	if err := row.Scan(&e.EntryID, &e.EntryDate, &e.Application, &e.TaskDescription,
		&e.TotalSeconds, &e.TimeUnits, &matter, &e.Status, &notes,
		&e.SourceHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.MatterCode = matter
	e.Notes = notes
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]domain.TimeEntry, error) {
	var out []domain.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
