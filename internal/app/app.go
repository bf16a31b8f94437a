// Package app wires adapters, the store and the aggregation engine, and
// exposes the high-level operations the CLI and the HTTP API call.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timebill/internal/adapter/alp"
	"timebill/internal/adapter/rescuetime"
	"timebill/internal/config"
	"timebill/internal/domain"
	"timebill/internal/ports"
	"timebill/internal/processor"
	"timebill/internal/store"
)

// App holds the wired application.
type App struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    ports.Store
	Source   ports.ActivitySource
	Practice ports.PracticeClient
	Engine   *processor.Engine

	loc *time.Location
}

// New builds the application from config. The caller must Close it.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Sync.Timezone, err)
	}

	st, err := store.NewFromConfig(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &App{
		Log:      log,
		Cfg:      cfg,
		Store:    st,
		Source:   rescuetime.NewClient(cfg.RescueTime.BaseURL, cfg.RescueTime.APIKey, log),
		Practice: alp.NewClient(cfg.ALP.BaseURL, cfg.ALP.APIKey, log),
		Engine:   &processor.Engine{Log: log, Store: st},
		loc:      loc,
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() error { return a.Store.Close() }

// Today returns the current date in the configured timezone.
func (a *App) Today() string {
	return time.Now().In(a.loc).Format(domain.DateFormat)
}

// FetchDate refreshes one date from the upstream API: the date's existing
// records are marked stale first, so the following aggregation run treats
// the whole date as new data.
func (a *App) FetchDate(ctx context.Context, date string) (int, error) {
	if !domain.ValidDate(date) {
		return 0, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	stale, err := a.Store.MarkDateStale(ctx, date)
	if err != nil {
		return 0, err
	}
	a.Log.Debug("marked date stale", slog.String("date", date), slog.Int64("records", stale))

	records, err := a.Source.FetchDay(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", date, err)
	}
	if len(records) == 0 {
		a.Log.Info("no telemetry returned", slog.String("date", date))
		return 0, nil
	}
	n, err := a.Store.UpsertRawRecords(ctx, records)
	if err != nil {
		return 0, err
	}
	a.Log.Info("fetched and upserted telemetry", slog.String("date", date), slog.Int("records", n))
	return n, nil
}

// Fetch refreshes the last N days, today included.
func (a *App) Fetch(ctx context.Context, days int) error {
	if days < 1 {
		days = 1
	}
	now := time.Now().In(a.loc)
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format(domain.DateFormat)
		if _, err := a.FetchDate(ctx, date); err != nil {
			return err
		}
	}
	return nil
}

// FetchCurrentDay refreshes today's data, honoring the minimum refetch
// interval unless forced, and immediately aggregates the refreshed date.
func (a *App) FetchCurrentDay(ctx context.Context, force bool) error {
	today := a.Today()
	if !force {
		ok, reason, err := a.shouldRefresh(ctx, today)
		if err != nil {
			return err
		}
		if !ok {
			a.Log.Info("skipping current-day refresh", slog.String("reason", reason))
			return nil
		}
		a.Log.Debug("refreshing current day", slog.String("reason", reason))
	}

	if _, err := a.FetchDate(ctx, today); err != nil {
		return err
	}
	if err := a.Store.SetLastDayFetch(ctx, today, time.Now()); err != nil {
		return err
	}
	_, err := a.Engine.Aggregate(ctx, domain.ForDate(today), false)
	return err
}

func (a *App) shouldRefresh(ctx context.Context, today string) (bool, string, error) {
	date, at, err := a.Store.LastDayFetch(ctx)
	if err != nil {
		return false, "", err
	}
	if date == "" {
		return true, "no previous current-day refresh", nil
	}
	if date != today {
		return true, fmt.Sprintf("last refresh was for %s", date), nil
	}
	minInterval := time.Duration(a.Cfg.Sync.MinFetchIntervalMins) * time.Minute
	since := time.Since(at)
	if since >= minInterval {
		return true, fmt.Sprintf("last refresh was %s ago", since.Round(time.Second)), nil
	}
	return false, fmt.Sprintf("last refresh was only %s ago (min interval %s)",
		since.Round(time.Second), minInterval), nil
}

// Process runs one aggregation over the unprocessed window.
func (a *App) Process(ctx context.Context, scope domain.Scope, debug bool) (*domain.Summary, error) {
	return a.Engine.Aggregate(ctx, scope, debug)
}

// Submit posts a reviewed entry to the practice-management API, records the
// submission provenance, and marks the entry submitted. Status and notes
// survive later re-aggregation of the same group.
func (a *App) Submit(ctx context.Context, entryID, matterComponentID int64) error {
	entry, err := a.Store.EntryByID(ctx, entryID)
	if err != nil {
		return err
	}

	payload := ports.PracticeTimeEntry{
		MatterComponentID: matterComponentID,
		UserID:            a.Cfg.ALP.UserID,
		Date:              entry.EntryDate,
		Units:             entry.TimeUnits,
		Description:       entry.TaskDescription,
		Rate:              a.Cfg.ALP.Rate,
		BillableType:      1,
		GSTType:           1,
		Discriminator:     "MatterComponentTimeEntry",
		Notes:             entry.Notes,
	}
	if err := a.Practice.PostTimeEntry(ctx, payload); err != nil {
		return fmt.Errorf("submitting entry %d: %w", entryID, err)
	}

	if err := a.Store.UpsertProcessedEntry(ctx, domain.ProcessedTimeEntry{
		OriginalEntryID: entry.EntryID,
		EntryDate:       entry.EntryDate,
		Application:     entry.Application,
		TaskDescription: entry.TaskDescription,
		TimeUnits:       entry.TimeUnits,
		MatterCode:      entry.MatterCode,
		Status:          domain.StatusSubmitted,
		Notes:           entry.Notes,
		SourceHash:      entry.SourceHash,
	}); err != nil {
		return err
	}

	status := domain.StatusSubmitted
	return a.Store.UpdateEntry(ctx, entryID, domain.EntryPatch{Status: &status})
}

// Revert undoes a submission: provenance and entry go away and the source
// records return to the unprocessed window.
func (a *App) Revert(ctx context.Context, entryID int64) error {
	return a.Engine.Revert(ctx, entryID)
}

// RunPeriodic refreshes and aggregates the current day on the given
// interval until ctx is cancelled. Failures are logged and the loop keeps
// going; each run is idempotent on unchanged input.
func (a *App) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.Log.Info("starting periodic sync", slog.Duration("interval", interval))

	if err := a.FetchCurrentDay(ctx, false); err != nil {
		a.Log.Error("initial sync failed", slog.String("error", err.Error()))
	}
	for {
		select {
		case <-ctx.Done():
			a.Log.Info("periodic sync stopped")
			return
		case <-ticker.C:
			if err := a.FetchCurrentDay(ctx, false); err != nil {
				a.Log.Error("periodic sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
