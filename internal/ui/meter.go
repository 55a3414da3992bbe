// ABOUTME: Level meter helpers shared by the talk and listen TUIs
// ABOUTME: Converts linear RMS to dBFS and renders fixed-width bars
package ui

import (
	"fmt"
	"math"
	"strings"
)

// MeterFloor is the dBFS level drawn as an empty meter
const MeterFloor = -60.0

// ToDB converts linear RMS to dBFS. NaN stays NaN.
func ToDB(rms float64) float64 {
	if math.IsNaN(rms) {
		return rms
	}
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// FormatDB renders rms as a fixed-width dBFS label
func FormatDB(rms float64) string {
	db := ToDB(rms)
	switch {
	case math.IsNaN(db):
		return "  --- dB"
	case math.IsInf(db, -1):
		return " -inf dB"
	default:
		return fmt.Sprintf("%5.1f dB", db)
	}
}

// MeterBar renders rms as a bar from MeterFloor to 0 dBFS
func MeterBar(rms float64, width int) string {
	db := ToDB(rms)
	filled := 0
	if !math.IsNaN(db) && db > MeterFloor {
		filled = int(math.Round((db - MeterFloor) / -MeterFloor * float64(width)))
		filled = min(filled, width)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// renderBar draws value out of max as a bar
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
