// ABOUTME: Per-channel level statistics accumulated between META emissions
// ABOUTME: Computes RMS and clip counts per tick and reduces a window to one record
package stats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ClipThreshold is the absolute sample value above which a sample counts as clipped
const ClipThreshold = 1.0

// ErrChannelMismatch is returned when a tick's buffer count differs from the aggregator's
var ErrChannelMismatch = errors.New("stats: channel count mismatch")

// Record is the reduction of one window
type Record struct {
	RMS   []float64 // mean RMS per channel; NaN when the window was empty
	Clips []int     // total clipped samples per channel
}

// Aggregator collects per-tick readings. Not safe for concurrent use; the
// fan-out loop is its only caller.
type Aggregator struct {
	channels int
	rms      [][]float64
	clips    [][]int
}

// New creates an aggregator for a fixed channel count
func New(channels int) *Aggregator {
	return &Aggregator{channels: channels}
}

// Channels returns the channel count
func (a *Aggregator) Channels() int {
	return a.channels
}

// Len returns the number of ticks in the current window
func (a *Aggregator) Len() int {
	return len(a.rms)
}

// Observe adds one tick of little-endian float32 buffers, one per channel
func (a *Aggregator) Observe(buffers [][]byte) error {
	if len(buffers) != a.channels {
		return fmt.Errorf("%w: got %d buffers, want %d", ErrChannelMismatch, len(buffers), a.channels)
	}

	rms := make([]float64, a.channels)
	clips := make([]int, a.channels)
	for ch, buf := range buffers {
		rms[ch], clips[ch] = measure(buf)
	}
	a.rms = append(a.rms, rms)
	a.clips = append(a.clips, clips)
	return nil
}

// ObserveLevels adds precomputed readings for one tick. The slices are copied.
func (a *Aggregator) ObserveLevels(rms []float64, clips []int) error {
	if len(rms) != a.channels || len(clips) != a.channels {
		return fmt.Errorf("%w: got %d levels and %d clip counts, want %d",
			ErrChannelMismatch, len(rms), len(clips), a.channels)
	}
	a.rms = append(a.rms, append([]float64(nil), rms...))
	a.clips = append(a.clips, append([]int(nil), clips...))
	return nil
}

// Collect reduces the window and clears it
func (a *Aggregator) Collect() Record {
	rec := Record{
		RMS:   make([]float64, a.channels),
		Clips: make([]int, a.channels),
	}

	if len(a.rms) == 0 {
		for ch := range rec.RMS {
			rec.RMS[ch] = math.NaN()
		}
		return rec
	}

	for i := range a.rms {
		for ch := 0; ch < a.channels; ch++ {
			rec.RMS[ch] += a.rms[i][ch]
			rec.Clips[ch] += a.clips[i][ch]
		}
	}
	for ch := range rec.RMS {
		rec.RMS[ch] /= float64(len(a.rms))
	}

	a.rms = a.rms[:0]
	a.clips = a.clips[:0]
	return rec
}

// measure returns sqrt(mean(x²)) and the clip count of one buffer.
// An empty buffer reads as silence.
func measure(buf []byte) (float64, int) {
	n := len(buf) / 4
	if n == 0 {
		return 0, 0
	}

	var sum float64
	clips := 0
	for i := 0; i < n; i++ {
		x := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		sum += x * x
		if math.Abs(x) > ClipThreshold {
			clips++
		}
	}
	return math.Sqrt(sum / float64(n)), clips
}
