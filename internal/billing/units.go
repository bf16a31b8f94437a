// Package billing holds the billing-unit arithmetic and the matter-code
// extraction heuristics applied to canonical task descriptions.
package billing

import "fmt"

// SecondsToUnits converts a duration to billing units: one unit per 360
// seconds, rounded up to the nearest 0.1. Any recorded activity bills at
// least the minimum 0.1 unit, including zero-length observations.
//
// The tenths are computed in integer arithmetic so exact multiples of 36
// seconds never round past their exact value.
func SecondsToUnits(seconds int64) float64 {
	if seconds <= 0 {
		return 0.1
	}
	tenths := (seconds*10 + 359) / 360
	return float64(tenths) / 10
}

// FormatUnits renders units with the display precision used on reports,
// e.g. "1.5 units (9 min)".
func FormatUnits(units float64) string {
	return fmt.Sprintf("%.1f units (%.0f min)", units, units*6)
}
