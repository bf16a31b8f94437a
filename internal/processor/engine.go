// Package processor is the activity-to-time-entry aggregation engine. It
// folds unprocessed raw telemetry into deduplicated time entries: one entry
// per (date, application, canonical task), upserted on a content hash so
// repeated and partially-overlapping runs converge on the same rows.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"timebill/internal/billing"
	"timebill/internal/canonical"
	"timebill/internal/domain"
	"timebill/internal/ports"
)

// Engine coordinates canonicalization, grouping and the transactional
// upsert. One run is synchronous and single-threaded; atomicity against
// concurrent fetches comes from the store's aggregation transaction.
type Engine struct {
	Log   *slog.Logger
	Store ports.Store
}

type groupKey struct {
	date        string
	application string
	task        string
}

type group struct {
	key          groupKey
	totalSeconds int64
	records      []domain.RecordKey
}

// buildGroups canonicalizes each record and groups the survivors by
// (date, application, canonical key). Malformed rows are counted and left
// alone; discarded rows stay unprocessed and show up as leakage.
func buildGroups(records []domain.RawActivityRecord) (groups []*group, consumed []domain.RecordKey, skipped int) {
	byKey := make(map[groupKey]*group)
	for _, r := range records {
		if r.Activity == "" || r.DurationSeconds < 0 || !domain.ValidDate(r.LogDate) {
			skipped++
			continue
		}
		task, ok := canonical.Key(r.Document, r.Activity)
		if !ok {
			continue
		}
		k := groupKey{date: r.LogDate, application: r.Activity, task: task}
		g := byKey[k]
		if g == nil {
			g = &group{key: k}
			byKey[k] = g
		}
		g.totalSeconds += r.DurationSeconds
		g.records = append(g.records, r.Key())
		consumed = append(consumed, r.Key())
	}

	groups = make([]*group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].key, groups[j].key
		if a.date != b.date {
			return a.date < b.date
		}
		if a.application != b.application {
			return a.application < b.application
		}
		return a.task < b.task
	})
	return groups, consumed, skipped
}

func (g *group) entry() domain.TimeEntry {
	return domain.TimeEntry{
		EntryDate:       g.key.date,
		Application:     g.key.application,
		TaskDescription: g.key.task,
		TotalSeconds:    g.totalSeconds,
		TimeUnits:       billing.SecondsToUnits(g.totalSeconds),
		MatterCode:      billing.ExtractMatterCode(g.key.task),
		Status:          domain.StatusPending,
		SourceHash:      domain.SourceHash(g.key.date, g.key.application, g.key.task),
	}
}

// Aggregate processes the unprocessed window in scope. In debug mode it
// computes the grouping table and writes nothing; otherwise the select,
// entry upserts and processed-flag flips happen in one store transaction.
// Running twice over unchanged data writes the same rows and consumes zero
// additional records.
func (e *Engine) Aggregate(ctx context.Context, scope domain.Scope, debug bool) (*domain.Summary, error) {
	summary := &domain.Summary{Scope: scope}

	if debug {
		records, err := e.Store.UnprocessedRecords(ctx, scope)
		if err != nil {
			return nil, err
		}
		groups, consumed, skipped := buildGroups(records)
		fill(summary, records, groups, skipped)
		summary.RecordsConsumed = 0 // nothing written, nothing flipped
		summary.EntriesWritten = 0
		for _, g := range groups {
			en := g.entry()
			summary.Groups = append(summary.Groups, domain.GroupPreview{
				EntryDate:       en.EntryDate,
				Application:     en.Application,
				TaskDescription: en.TaskDescription,
				MatterCode:      en.MatterCode,
				TotalSeconds:    en.TotalSeconds,
				TimeUnits:       en.TimeUnits,
				RecordCount:     len(g.records),
			})
		}
		e.Log.Info("aggregation dry run",
			slog.Int("selected", summary.RecordsSelected),
			slog.Int("groups", len(groups)),
			slog.Int("would_consume", len(consumed)))
		return summary, nil
	}

	written, consumed, err := e.Store.Aggregate(ctx, scope, func(records []domain.RawActivityRecord) ([]domain.TimeEntry, []domain.RecordKey) {
		groups, consumedKeys, skipped := buildGroups(records)
		fill(summary, records, groups, skipped)
		entries := make([]domain.TimeEntry, 0, len(groups))
		for _, g := range groups {
			entries = append(entries, g.entry())
		}
		return entries, consumedKeys
	})
	if err != nil {
		return nil, fmt.Errorf("aggregation run: %w", err)
	}
	summary.EntriesWritten = written
	summary.RecordsConsumed = consumed

	e.Log.Info("aggregation completed",
		slog.Int("selected", summary.RecordsSelected),
		slog.Int("skipped", summary.RecordsSkipped),
		slog.Int("entries_written", written),
		slog.Int("records_consumed", consumed),
		slog.Int64("raw_seconds", summary.RawSeconds),
		slog.Int64("processed_seconds", summary.ProcessedSeconds),
		slog.Int64("leakage_seconds", summary.LeakageSeconds),
		slog.String("leakage_pct", fmt.Sprintf("%.2f%%", summary.LeakagePercent())))
	return summary, nil
}

func fill(summary *domain.Summary, records []domain.RawActivityRecord, groups []*group, skipped int) {
	summary.RecordsSelected = len(records)
	summary.RecordsSkipped = skipped
	summary.RawSeconds = 0
	summary.ProcessedSeconds = 0
	for _, r := range records {
		summary.RawSeconds += r.DurationSeconds
	}
	for _, g := range groups {
		summary.ProcessedSeconds += g.totalSeconds
	}
	summary.LeakageSeconds = summary.RawSeconds - summary.ProcessedSeconds
}

// Revert undoes an entry: the raw records whose canonical key built it go
// back to the unprocessed window and the entry row is removed, so the next
// run rebuilds from source. Returns ports.ErrNotFound for an unknown id.
func (e *Engine) Revert(ctx context.Context, entryID int64) error {
	entry, err := e.Store.EntryByID(ctx, entryID)
	if err != nil {
		return err
	}
	task := entry.TaskDescription
	if err := e.Store.RevertEntry(ctx, entryID, func(r domain.RawActivityRecord) bool {
		key, ok := canonical.Key(r.Document, r.Activity)
		return ok && key == task
	}); err != nil {
		return err
	}
	e.Log.Info("entry reverted for re-aggregation",
		slog.Int64("entry_id", entryID),
		slog.String("task", task))
	return nil
}
