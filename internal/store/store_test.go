package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"timebill/internal/domain"
	"timebill/internal/ports"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenSQLite(":memory:", log)
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords() []domain.RawActivityRecord {
	return []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 200, Activity: "Chrome", Category: "Browsing", Productivity: 1, Document: "x.docx - Google Chrome"},
		{LogDate: "2025-01-01", DurationSeconds: 160, Activity: "Chrome", Category: "Browsing", Productivity: 1, Document: "x.docx"},
		{LogDate: "2025-01-02", DurationSeconds: 300, Activity: "Word", Category: "Writing", Productivity: 2, Document: "Brief_54321"},
	}
}

// consumeAll is a BuildFunc that groups nothing: it writes one entry per
// record and consumes every record.
func consumeAll(records []domain.RawActivityRecord) ([]domain.TimeEntry, []domain.RecordKey) {
	var entries []domain.TimeEntry
	var consumed []domain.RecordKey
	for _, r := range records {
		entries = append(entries, domain.TimeEntry{
			EntryDate:       r.LogDate,
			Application:     r.Activity,
			TaskDescription: r.Document,
			TotalSeconds:    r.DurationSeconds,
			TimeUnits:       0.1,
			Status:          domain.StatusPending,
			SourceHash:      domain.SourceHash(r.LogDate, r.Activity, r.Document),
		})
		consumed = append(consumed, r.Key())
	}
	return entries, consumed
}

func TestUpsertRawRecordsAndSelect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertRawRecords(ctx, testRecords())
	if err != nil {
		t.Fatalf("upserting: %v", err)
	}
	if n != 3 {
		t.Fatalf("upserted %d records, want 3", n)
	}

	records, err := s.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatalf("selecting: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d unprocessed records, want 3", len(records))
	}

	scoped, err := s.UnprocessedRecords(ctx, domain.ForDate("2025-01-02"))
	if err != nil {
		t.Fatalf("selecting scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Activity != "Word" {
		t.Fatalf("scoped select = %+v, want the single Word record", scoped)
	}
}

func TestReupsertResetsProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}
	left, err := s.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("%d records still unprocessed after aggregation", len(left))
	}

	// Re-observing a known triple updates it in place and resets processed.
	updated := testRecords()[:1]
	updated[0].DurationSeconds = 500
	if _, err := s.UpsertRawRecords(ctx, updated); err != nil {
		t.Fatal(err)
	}
	left, err = s.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("got %d unprocessed records after re-upsert, want 1", len(left))
	}
	if left[0].DurationSeconds != 500 {
		t.Errorf("duration = %d, want the superseding value 500", left[0].DurationSeconds)
	}
}

func TestMarkDateStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkDateStale(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("marked %d records stale, want 2", n)
	}
	left, err := s.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 {
		t.Fatalf("got %d unprocessed records, want the 2 stale ones", len(left))
	}
	for _, r := range left {
		if r.LogDate != "2025-01-01" {
			t.Errorf("unexpected stale record on %s", r.LogDate)
		}
	}
}

func TestAggregateUpsertPreservesStatusAndNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()[2:]); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}
	entries, err := s.EntriesByDate(ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	id := entries[0].EntryID

	status, notes := domain.StatusIgnored, "personal research"
	if err := s.UpdateEntry(ctx, id, domain.EntryPatch{Status: &status, Notes: &notes}); err != nil {
		t.Fatal(err)
	}

	// Refetch and re-aggregate: totals change, the operator's decision stays.
	if _, err := s.MarkDateStale(ctx, "2025-01-02"); err != nil {
		t.Fatal(err)
	}
	updated := testRecords()[2:]
	updated[0].DurationSeconds = 900
	if _, err := s.UpsertRawRecords(ctx, updated); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}

	entry, err := s.EntryByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.TotalSeconds != 900 {
		t.Errorf("total_seconds = %d, want the re-aggregated 900", entry.TotalSeconds)
	}
	if entry.Status != domain.StatusIgnored || entry.Notes != "personal research" {
		t.Errorf("status/notes = %q/%q, want them preserved across re-aggregation",
			entry.Status, entry.Notes)
	}
}

func TestAggregateWithoutEntriesWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()); err != nil {
		t.Fatal(err)
	}
	written, consumed, err := s.Aggregate(ctx, domain.Scope{},
		func([]domain.RawActivityRecord) ([]domain.TimeEntry, []domain.RecordKey) {
			return nil, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if written != 0 || consumed != 0 {
		t.Fatalf("written/consumed = %d/%d, want 0/0", written, consumed)
	}
	left, err := s.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 3 {
		t.Fatalf("%d records unprocessed, want all 3 untouched", len(left))
	}
}

func TestUpdateEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()[2:]); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}
	entries, err := s.EntriesByDate(ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	id := entries[0].EntryID

	notes := "waiting on client"
	if err := s.UpdateEntry(ctx, id, domain.EntryPatch{Notes: &notes}); err != nil {
		t.Fatal(err)
	}
	entry, err := s.EntryByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Notes != notes {
		t.Errorf("notes = %q, want %q", entry.Notes, notes)
	}
	if entry.Status != domain.StatusPending {
		t.Errorf("status = %q, want it untouched by a notes-only patch", entry.Status)
	}

	if err := s.UpdateEntry(ctx, 9999, domain.EntryPatch{Notes: &notes}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("updating unknown id: err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateEntry(ctx, id, domain.EntryPatch{}); err == nil {
		t.Error("empty patch should be rejected")
	}
}

func TestEntryByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EntryByID(context.Background(), 42); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEntriesByDateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()[:2]); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}
	entries, err := s.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].TotalSeconds < entries[1].TotalSeconds {
		t.Error("entries not ordered largest first")
	}
}

func TestRevertEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertRawRecords(ctx, testRecords()[2:]); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Aggregate(ctx, domain.Scope{}, consumeAll); err != nil {
		t.Fatal(err)
	}
	entries, err := s.EntriesByDate(ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	id := entries[0].EntryID

	matchAll := func(domain.RawActivityRecord) bool { return true }
	if err := s.RevertEntry(ctx, id, matchAll); err != nil {
		t.Fatal(err)
	}

	if _, err := s.EntryByID(ctx, id); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("entry still loadable after revert: err = %v", err)
	}
	left, err := s.UnprocessedRecords(ctx, domain.ForDate("2025-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("%d records unprocessed after revert, want 1", len(left))
	}

	if err := s.RevertEntry(ctx, 9999, matchAll); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("reverting unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestProcessedEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.ProcessedTimeEntry{
		OriginalEntryID: 1,
		EntryDate:       "2025-01-02",
		Application:     "Word",
		TaskDescription: "Brief_54321",
		TimeUnits:       0.9,
		MatterCode:      "54321",
		SourceHash:      domain.SourceHash("2025-01-02", "Word", "Brief_54321"),
	}
	if err := s.UpsertProcessedEntry(ctx, p); err != nil {
		t.Fatal(err)
	}
	// Resubmission of the same (hash, date) updates in place.
	p.TimeUnits = 1.2
	if err := s.UpsertProcessedEntry(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := s.ProcessedEntries(ctx, "2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d provenance rows, want 1", len(got))
	}
	if got[0].TimeUnits != 1.2 {
		t.Errorf("time_units = %v, want the updated 1.2", got[0].TimeUnits)
	}
	if got[0].Status != domain.StatusSubmitted {
		t.Errorf("status = %q, want the submitted default", got[0].Status)
	}

	none, err := s.ProcessedEntries(ctx, "2024-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("got %d rows for an empty date", len(none))
	}
}

func TestLastDayFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	date, at, err := s.LastDayFetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if date != "" || !at.IsZero() {
		t.Fatalf("fresh store reported a last fetch: %q %v", date, at)
	}

	now := time.Now().Truncate(time.Second)
	if err := s.SetLastDayFetch(ctx, "2025-01-03", now); err != nil {
		t.Fatal(err)
	}
	date, at, err = s.LastDayFetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if date != "2025-01-03" {
		t.Errorf("date = %q, want 2025-01-03", date)
	}
	if !at.Equal(now) {
		t.Errorf("at = %v, want %v", at, now)
	}

	// Overwrites, never accumulates.
	later := now.Add(time.Hour)
	if err := s.SetLastDayFetch(ctx, "2025-01-04", later); err != nil {
		t.Fatal(err)
	}
	date, at, err = s.LastDayFetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if date != "2025-01-04" || !at.Equal(later) {
		t.Errorf("got %q %v, want the overwritten values", date, at)
	}
}
