package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"timebill/internal/domain"
	"timebill/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.OpenSQLite(":memory:", log)
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &Engine{Log: log, Store: s}
}

func seed(t *testing.T, e *Engine, records []domain.RawActivityRecord) {
	t.Helper()
	if _, err := e.Store.UpsertRawRecords(context.Background(), records); err != nil {
		t.Fatalf("seeding records: %v", err)
	}
}

// Two observations of the same noisy Chrome title collapse into one entry:
// 200s + 160s of "x.docx - Google Chrome" become a single 360-second entry
// for the canonical "x.docx" at exactly 1.0 units.
func TestAggregateCollapsesDuplicates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 200, Activity: "Chrome", Document: "x.docx - Google Chrome"},
		{LogDate: "2025-01-01", DurationSeconds: 160, Activity: "Chrome", Document: "x.docx"},
	})

	summary, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.EntriesWritten != 1 || summary.RecordsConsumed != 2 {
		t.Fatalf("written/consumed = %d/%d, want 1/2",
			summary.EntriesWritten, summary.RecordsConsumed)
	}

	entries, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.TaskDescription != "x.docx" {
		t.Errorf("task = %q, want %q", entry.TaskDescription, "x.docx")
	}
	if entry.TotalSeconds != 360 {
		t.Errorf("total_seconds = %d, want 360", entry.TotalSeconds)
	}
	if entry.TimeUnits != 1.0 {
		t.Errorf("time_units = %v, want 1.0", entry.TimeUnits)
	}
	if entry.SourceHash != domain.SourceHash("2025-01-01", "Chrome", "x.docx") {
		t.Errorf("source_hash = %q does not match the group identity", entry.SourceHash)
	}
}

// A second run over unchanged data writes nothing new and consumes nothing.
func TestAggregateIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 400, Activity: "Word", Document: "Brief_54321"},
	})

	first, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.EntriesWritten != 1 {
		t.Fatalf("first run wrote %d entries, want 1", first.EntriesWritten)
	}

	second, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.RecordsSelected != 0 || second.RecordsConsumed != 0 || second.EntriesWritten != 0 {
		t.Errorf("second run selected/consumed/wrote = %d/%d/%d, want all zero",
			second.RecordsSelected, second.RecordsConsumed, second.EntriesWritten)
	}

	entries, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries after two runs, want 1", len(entries))
	}
}

// Discarded (vague) rows are not consumed; their seconds surface as leakage
// and they stay eligible for later runs.
func TestAggregateLeakage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 300, Activity: "Word", Document: "Brief_54321"},
		{LogDate: "2025-01-01", DurationSeconds: 120, Activity: "Chrome", Document: "New Tab"},
	})

	summary, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RawSeconds != 420 || summary.ProcessedSeconds != 300 {
		t.Fatalf("raw/processed = %d/%d, want 420/300",
			summary.RawSeconds, summary.ProcessedSeconds)
	}
	if summary.LeakageSeconds != 120 {
		t.Errorf("leakage = %d, want the 120 vague seconds", summary.LeakageSeconds)
	}
	if summary.RecordsConsumed != 1 {
		t.Errorf("consumed = %d, want 1", summary.RecordsConsumed)
	}

	left, err := e.Store.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Document != "New Tab" {
		t.Fatalf("unprocessed after run = %+v, want only the vague record", left)
	}
}

// Malformed rows are counted and skipped without aborting the run.
func TestAggregateSkipsMalformed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: -10, Activity: "Word", Document: "Broken"},
		{LogDate: "2025-01-01", DurationSeconds: 300, Activity: "Word", Document: "Brief_54321"},
	})

	summary, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RecordsSkipped != 1 {
		t.Errorf("skipped = %d, want 1", summary.RecordsSkipped)
	}
	if summary.EntriesWritten != 1 {
		t.Errorf("written = %d, want 1", summary.EntriesWritten)
	}
}

// Per-date grouping: the same document on two dates yields two entries.
func TestAggregateGroupsPerDate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 200, Activity: "Word", Document: "Brief_54321"},
		{LogDate: "2025-01-02", DurationSeconds: 200, Activity: "Word", Document: "Brief_54321"},
	})

	summary, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.EntriesWritten != 2 {
		t.Fatalf("written = %d, want one entry per date", summary.EntriesWritten)
	}
}

// Scope bounds which records a run may touch.
func TestAggregateScoped(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 200, Activity: "Word", Document: "Brief_54321"},
		{LogDate: "2025-01-05", DurationSeconds: 200, Activity: "Word", Document: "Memo_12345"},
	})

	summary, err := e.Aggregate(ctx, domain.ForDate("2025-01-01"), false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RecordsConsumed != 1 {
		t.Fatalf("consumed = %d, want only the in-scope record", summary.RecordsConsumed)
	}
	left, err := e.Store.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].LogDate != "2025-01-05" {
		t.Fatalf("unprocessed = %+v, want only the out-of-scope record", left)
	}
}

// Debug mode reports the grouping but writes nothing and consumes nothing.
func TestAggregateDebug(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 450, Activity: "Word", Document: "Brief_54321"},
	})

	summary, err := e.Aggregate(ctx, domain.Scope{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Groups) != 1 {
		t.Fatalf("got %d group previews, want 1", len(summary.Groups))
	}
	g := summary.Groups[0]
	if g.TaskDescription != "Brief_54321" || g.MatterCode != "54321" || g.TimeUnits != 1.3 {
		t.Errorf("preview = %+v", g)
	}
	if summary.EntriesWritten != 0 || summary.RecordsConsumed != 0 {
		t.Errorf("debug run wrote %d / consumed %d, want 0/0",
			summary.EntriesWritten, summary.RecordsConsumed)
	}

	entries, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("debug run persisted %d entries", len(entries))
	}
	left, err := e.Store.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("debug run consumed records: %d left, want 1", len(left))
	}
}

// Matter codes extracted from the canonical task land on the entry.
func TestAggregateExtractsMatterCode(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 600, Activity: "Chrome", Document: "Client Report [12345] - Google Chrome"},
	})

	if _, err := e.Aggregate(ctx, domain.Scope{}, false); err != nil {
		t.Fatal(err)
	}
	entries, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].MatterCode != "12345" {
		t.Errorf("matter_code = %q, want 12345", entries[0].MatterCode)
	}
}

// Revert returns an entry's source records to the unprocessed window; the
// next run rebuilds the same entry identity.
func TestRevert(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seed(t, e, []domain.RawActivityRecord{
		{LogDate: "2025-01-01", DurationSeconds: 200, Activity: "Chrome", Document: "x.docx - Google Chrome"},
		{LogDate: "2025-01-01", DurationSeconds: 160, Activity: "Chrome", Document: "x.docx"},
	})
	if _, err := e.Aggregate(ctx, domain.Scope{}, false); err != nil {
		t.Fatal(err)
	}
	entries, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	id := entries[0].EntryID

	if err := e.Revert(ctx, id); err != nil {
		t.Fatal(err)
	}
	left, err := e.Store.UnprocessedRecords(ctx, domain.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 {
		t.Fatalf("%d records unprocessed after revert, want both", len(left))
	}

	summary, err := e.Aggregate(ctx, domain.Scope{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.EntriesWritten != 1 || summary.RecordsConsumed != 2 {
		t.Fatalf("re-run written/consumed = %d/%d, want 1/2",
			summary.EntriesWritten, summary.RecordsConsumed)
	}
	rebuilt, err := e.Store.EntriesByDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(rebuilt) != 1 || rebuilt[0].TotalSeconds != 360 {
		t.Fatalf("rebuilt entries = %+v, want the original 360-second group", rebuilt)
	}
}
