package domain

// Summary reports the outcome of one aggregation run. LeakageSeconds is a
// data-quality signal, not an error: raw observed time that no committed
// entry accounts for.
type Summary struct {
	Scope            Scope
	RecordsSelected  int
	RecordsSkipped   int // malformed rows, counted and left alone
	RecordsConsumed  int // rows flipped to processed
	EntriesWritten   int
	RawSeconds       int64
	ProcessedSeconds int64
	LeakageSeconds   int64

	// Groups is populated only in debug mode, where nothing is written.
	Groups []GroupPreview
}

// LeakagePercent returns the share of raw seconds not reflected in any
// written entry.
func (s Summary) LeakagePercent() float64 {
	if s.RawSeconds == 0 {
		return 0
	}
	return float64(s.LeakageSeconds) / float64(s.RawSeconds) * 100
}

// GroupPreview is one row of the debug-mode grouping table.
type GroupPreview struct {
	EntryDate       string
	Application     string
	TaskDescription string
	MatterCode      string
	TotalSeconds    int64
	TimeUnits       float64
	RecordCount     int
}
