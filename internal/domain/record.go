package domain

import "time"

// DateFormat is the calendar-date layout used everywhere a date crosses a
// boundary (storage, API, CLI). Raw records and time entries carry dates
// without a time component.
const DateFormat = "2006-01-02"

// RawActivityRecord is one observation of time spent on a document on a
// given calendar date, as delivered by the upstream telemetry API.
// The triple (LogDate, Activity, Document) identifies a record; re-observing
// the same triple supersedes prior knowledge and must be re-aggregated.
type RawActivityRecord struct {
	LogDate         string // YYYY-MM-DD
	DurationSeconds int64
	Activity        string // source application name
	Category        string
	Productivity    int // small signed score from the upstream API
	Document        string // raw, noisy title
	Processed       bool
}

// Key returns the identity triple of the record.
func (r RawActivityRecord) Key() RecordKey {
	return RecordKey{LogDate: r.LogDate, Activity: r.Activity, Document: r.Document}
}

// RecordKey identifies a raw activity record.
type RecordKey struct {
	LogDate  string
	Activity string
	Document string
}

// Scope bounds an aggregation run to a date window. Empty fields mean
// unbounded on that side; the zero Scope selects all unprocessed records.
type Scope struct {
	Start string // YYYY-MM-DD, inclusive
	End   string // YYYY-MM-DD, inclusive
}

// ForDate returns a scope covering exactly one calendar date.
func ForDate(date string) Scope {
	return Scope{Start: date, End: date}
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateFormat, s)
	return err == nil
}
