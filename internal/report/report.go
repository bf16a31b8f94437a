// Package report renders time entries for review: a console table per date
// and an optional CSV export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"timebill/internal/domain"
)

// FormatHHMMSS formats a duration as hh:mm:ss.
func FormatHHMMSS(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Render writes a console table of the date's entries. Entries are expected
// pre-sorted (the store returns them largest first).
func Render(w io.Writer, date string, entries []domain.TimeEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No time entries found for %s. Run the 'process' command first.\n", date)
		return
	}
	fmt.Fprintf(w, "\nTime entries for %s\n", date)
	fmt.Fprintf(w, "%-5s %-20s %-50s %-8s %-12s %-10s %-10s %s\n",
		"ID", "Application", "Task", "Units", "Time", "Matter", "Status", "Notes")
	for _, e := range entries {
		fmt.Fprintf(w, "%-5d %-20s %-50s %-8s %-12s %-10s %-10s %s\n",
			e.EntryID,
			clip(e.Application, 20),
			clip(e.TaskDescription, 50),
			fmt.Sprintf("%.1f", e.TimeUnits),
			FormatHHMMSS(e.TotalSeconds),
			e.MatterCode,
			e.Status,
			e.Notes)
	}
}

// WriteCSV exports entries in the review spreadsheet layout.
func WriteCSV(w io.Writer, entries []domain.TimeEntry) error {
	cw := csv.NewWriter(w)
	header := []string{"entry_id", "entry_date", "application", "task_description",
		"total_seconds", "time_units", "matter_code", "status", "notes", "source_hash"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.EntryID, 10),
			e.EntryDate,
			e.Application,
			e.TaskDescription,
			strconv.FormatInt(e.TotalSeconds, 10),
			fmt.Sprintf("%.1f", e.TimeUnits),
			e.MatterCode,
			e.Status,
			e.Notes,
			e.SourceHash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
