package ports

import (
	"context"
	"errors"
	"time"

	"timebill/internal/domain"
)

// ErrNotFound is returned when an operation names a time entry that does not
// exist. No state changes when it is returned.
var ErrNotFound = errors.New("time entry not found")

// BuildFunc turns the unprocessed records selected inside an aggregation
// transaction into the entries to upsert and the record keys to flip to
// processed. It must be pure: it runs between the read and the write of a
// single transaction.
type BuildFunc func(records []domain.RawActivityRecord) (entries []domain.TimeEntry, consumed []domain.RecordKey)

// Store is the raw-record and time-entry persistence contract. The raw log
// and the entry table are the only shared mutable state in the system, so
// every compound operation here is a single transaction: a concurrent fetch
// upsert lands entirely before or entirely after it, never inside.
type Store interface {
	// Raw record side (fed by the fetch collaborator).
	UpsertRawRecords(ctx context.Context, records []domain.RawActivityRecord) (int, error)
	MarkDateStale(ctx context.Context, date string) (int64, error)
	UnprocessedRecords(ctx context.Context, scope domain.Scope) ([]domain.RawActivityRecord, error)

	// Aggregate selects unprocessed records in scope, calls build, upserts
	// the returned entries keyed on source_hash (status and notes untouched
	// on conflict), and marks the consumed records processed, all inside one
	// transaction. It reports how many entries were written and how many
	// records were consumed.
	Aggregate(ctx context.Context, scope domain.Scope, build BuildFunc) (written, consumed int, err error)

	// Entry side (read by reporting and the API layer).
	EntryByID(ctx context.Context, id int64) (*domain.TimeEntry, error)
	EntriesByDate(ctx context.Context, date string) ([]domain.TimeEntry, error)
	EntriesByStatus(ctx context.Context, status string) ([]domain.TimeEntry, error)
	UpdateEntry(ctx context.Context, id int64, patch domain.EntryPatch) error

	// RevertEntry deletes the entry and resets the raw records selected by
	// match (over the entry's date and application) to unprocessed, in one
	// transaction, so the next run re-aggregates them.
	RevertEntry(ctx context.Context, id int64, match func(domain.RawActivityRecord) bool) error

	// Submission provenance.
	UpsertProcessedEntry(ctx context.Context, entry domain.ProcessedTimeEntry) error
	ProcessedEntries(ctx context.Context, date string) ([]domain.ProcessedTimeEntry, error)

	// Fetch bookkeeping for the current-day refresh interval.
	SetLastDayFetch(ctx context.Context, date string, at time.Time) error
	LastDayFetch(ctx context.Context) (date string, at time.Time, err error)

	Close() error
}

// ActivitySource fetches one calendar date of document-level telemetry from
// the upstream time-tracking API.
type ActivitySource interface {
	FetchDay(ctx context.Context, date string) ([]domain.RawActivityRecord, error)
}

// PracticeClient is the downstream practice-management API used when a
// reviewed entry is submitted.
type PracticeClient interface {
	Matters(ctx context.Context) ([]Matter, error)
	MatterOutcomes(ctx context.Context, matterID int64) ([]Outcome, error)
	OutcomeComponents(ctx context.Context, outcomeID int64) ([]Component, error)
	PostTimeEntry(ctx context.Context, entry PracticeTimeEntry) error
}

// Matter is a billing matter in the practice-management system.
type Matter struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Outcome is a phase of work within a matter.
type Outcome struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Component is a billable component within an outcome.
type Component struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PracticeTimeEntry is the payload shape the practice-management API expects.
type PracticeTimeEntry struct {
	MatterComponentID int64   `json:"matter_component_id"`
	UserID            int64   `json:"user_id"`
	Date              string  `json:"date"`
	Units             float64 `json:"units"`
	Description       string  `json:"description"`
	Rate              int64   `json:"rate"`
	BillableType      int     `json:"billable_type"`
	GSTType           int     `json:"gst_type"`
	Discriminator     string  `json:"discriminator"`
	Notes             string  `json:"notes,omitempty"`
}
