package domain

import "testing"

func TestSourceHash(t *testing.T) {
	h1 := SourceHash("2025-01-01", "Chrome", "x.docx")
	h2 := SourceHash("2025-01-01", "Chrome", "x.docx")
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != 32 {
		t.Errorf("hash length = %d, want 32 hex characters", len(h1))
	}
	if SourceHash("2025-01-02", "Chrome", "x.docx") == h1 {
		t.Error("different dates produced the same hash")
	}
	if SourceHash("2025-01-01", "Word", "x.docx") == h1 {
		t.Error("different applications produced the same hash")
	}
	if SourceHash("2025-01-01", "Chrome", "y.docx") == h1 {
		t.Error("different tasks produced the same hash")
	}
}

func TestValidDate(t *testing.T) {
	tests := []struct {
		date string
		want bool
	}{
		{"2025-01-01", true},
		{"2025-12-31", true},
		{"2025-13-01", false},
		{"2025-1-1", false},
		{"01-01-2025", false},
		{"", false},
		{"not a date", false},
	}
	for _, tt := range tests {
		if got := ValidDate(tt.date); got != tt.want {
			t.Errorf("ValidDate(%q) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestForDate(t *testing.T) {
	s := ForDate("2025-06-15")
	if s.Start != "2025-06-15" || s.End != "2025-06-15" {
		t.Errorf("ForDate scope = %+v", s)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusPending, StatusIgnored, StatusSubmitted} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("done") {
		t.Error(`ValidStatus("done") = true`)
	}
}

func TestEntryPatchIsZero(t *testing.T) {
	if !(EntryPatch{}).IsZero() {
		t.Error("empty patch should be zero")
	}
	s := StatusIgnored
	if (EntryPatch{Status: &s}).IsZero() {
		t.Error("patch with status should not be zero")
	}
}

func TestLeakagePercent(t *testing.T) {
	s := Summary{RawSeconds: 1000, ProcessedSeconds: 900, LeakageSeconds: 100}
	if got := s.LeakagePercent(); got != 10 {
		t.Errorf("LeakagePercent() = %v, want 10", got)
	}
	if got := (Summary{}).LeakagePercent(); got != 0 {
		t.Errorf("zero summary LeakagePercent() = %v, want 0", got)
	}
}
