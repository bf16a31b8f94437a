package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry statuses. Status is an operator decision and is never reset by
// re-aggregation.
const (
	StatusPending   = "pending"
	StatusIgnored   = "ignored"
	StatusSubmitted = "submitted"
)

// ValidStatus reports whether s is one of the fixed entry statuses.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusIgnored || s == StatusSubmitted
}

// TimeEntry is one billable unit of work: a (date, application, canonical
// task) aggregate over raw activity records. SourceHash is the sole upsert
// conflict key.
type TimeEntry struct {
	EntryID         int64
	EntryDate       string // YYYY-MM-DD
	Application     string
	TaskDescription string // the canonical title
	TotalSeconds    int64
	TimeUnits       float64
	MatterCode      string // empty when no code was extracted
	Status          string
	Notes           string
	SourceHash      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SourceHash computes the content-addressed identity of a time entry group.
// Two aggregation runs over the same (date, application, task) always land on
// the same row.
func SourceHash(date, application, task string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%s", date, application, task)))
	return hex.EncodeToString(sum[:])
}

// EntryPatch is a partial update for a time entry. Only fields with non-nil
// pointers are applied; the statement shape is fixed regardless of which
// fields are present.
type EntryPatch struct {
	Status *string
	Notes  *string
}

// IsZero reports whether the patch carries no changes.
func (p EntryPatch) IsZero() bool { return p.Status == nil && p.Notes == nil }

// ProcessedTimeEntry records the submission of a time entry to the practice
// management system, keyed by (SourceHash, EntryDate). It is provenance only
// and is never touched by aggregation.
type ProcessedTimeEntry struct {
	ID              int64
	OriginalEntryID int64
	EntryDate       string
	Application     string
	TaskDescription string
	TimeUnits       float64
	MatterCode      string
	Status          string
	Notes           string
	SourceHash      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
