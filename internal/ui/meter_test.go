// ABOUTME: Tests for level meter helpers
// ABOUTME: Checks dBFS conversion and bar fill at known levels
package ui

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeterBar(t *testing.T) {
	tests := []struct {
		name   string
		rms    float64
		filled int
	}{
		{"full scale", 1.0, 10},
		{"over full scale", 2.0, 10},
		{"half way", math.Pow(10, -30.0/20), 5},
		{"below floor", math.Pow(10, -80.0/20), 0},
		{"silence", 0, 0},
		{"no data", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := MeterBar(tt.rms, 10)
			assert.Equal(t, 10, len([]rune(bar)))
			assert.Equal(t, tt.filled, strings.Count(bar, "█"))
		})
	}
}

func TestFormatDB(t *testing.T) {
	assert.Equal(t, "  0.0 dB", FormatDB(1.0))
	assert.Equal(t, "-20.0 dB", FormatDB(0.1))
	assert.Equal(t, " -inf dB", FormatDB(0))
	assert.Equal(t, "  --- dB", FormatDB(math.NaN()))
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", renderBar(50, 100, 10))
	assert.Equal(t, "░░░░░░░░░░", renderBar(0, 100, 10))
}
