// ABOUTME: Tests for the channel statistics aggregator
// ABOUTME: Covers empty windows, silence, window averaging and clip counting
package stats

import (
	"math"
	"testing"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constant returns n samples of value v, whose RMS is |v|
func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCollectEmptyWindow(t *testing.T) {
	agg := New(3)
	rec := agg.Collect()

	require.Len(t, rec.RMS, 3)
	require.Len(t, rec.Clips, 3)
	for ch := 0; ch < 3; ch++ {
		assert.True(t, math.IsNaN(rec.RMS[ch]), "channel %d", ch)
		assert.Equal(t, 0, rec.Clips[ch])
	}
}

func TestCollectSilence(t *testing.T) {
	agg := New(2)
	for i := 0; i < 10; i++ {
		require.NoError(t, agg.Observe(audio.TickFromSamples([][]float32{
			constant(0, 256),
			constant(0, 256),
		})))
	}

	rec := agg.Collect()
	assert.Equal(t, []float64{0, 0}, rec.RMS)
	assert.Equal(t, []int{0, 0}, rec.Clips)
}

func TestCollectAveragesAndSums(t *testing.T) {
	agg := New(2)
	require.NoError(t, agg.ObserveLevels([]float64{0.5, 0.5}, []int{0, 0}))
	require.NoError(t, agg.ObserveLevels([]float64{0.3, 0.3}, []int{1, 0}))
	require.NoError(t, agg.ObserveLevels([]float64{0.4, 0.4}, []int{0, 2}))

	rec := agg.Collect()
	assert.InDeltaSlice(t, []float64{0.4, 0.4}, rec.RMS, 1e-9)
	assert.Equal(t, []int{1, 2}, rec.Clips)
}

func TestObserveLevelsRejectsWrongLength(t *testing.T) {
	agg := New(2)

	assert.ErrorIs(t, agg.ObserveLevels([]float64{0.5}, []int{0, 0}), ErrChannelMismatch)
	assert.ErrorIs(t, agg.ObserveLevels([]float64{0.5, 0.5}, []int{0}), ErrChannelMismatch)
	assert.Equal(t, 0, agg.Len())

	// A rejected reading leaves Collect intact
	rec := agg.Collect()
	assert.True(t, math.IsNaN(rec.RMS[0]))
}

func TestObserveLevelsCopiesInput(t *testing.T) {
	agg := New(2)
	rms := []float64{0.5, 0.5}
	clips := []int{1, 1}
	require.NoError(t, agg.ObserveLevels(rms, clips))

	rms[0], clips[0] = 9, 9
	rec := agg.Collect()
	assert.Equal(t, []float64{0.5, 0.5}, rec.RMS)
	assert.Equal(t, []int{1, 1}, rec.Clips)
}

func TestObserveMeasuresBuffers(t *testing.T) {
	agg := New(2)

	// Channel 1 has two clipped samples out of four.
	left := []float32{0.5, -0.5, 0.5, -0.5}
	right := []float32{1.5, -2.0, 0.0, 1.0}
	require.NoError(t, agg.Observe(audio.TickFromSamples([][]float32{left, right})))

	rec := agg.Collect()
	assert.InDelta(t, 0.5, rec.RMS[0], 1e-6)
	assert.InDelta(t, math.Sqrt((2.25+4.0+0+1.0)/4), rec.RMS[1], 1e-6)
	assert.Equal(t, []int{0, 2}, rec.Clips, "exactly 1.0 does not clip")
}

func TestCollectClearsWindow(t *testing.T) {
	agg := New(1)
	require.NoError(t, agg.Observe(audio.TickFromSamples([][]float32{constant(0.25, 8)})))
	assert.Equal(t, 1, agg.Len())

	agg.Collect()
	assert.Equal(t, 0, agg.Len())
	assert.True(t, math.IsNaN(agg.Collect().RMS[0]))
}

func TestObserveChannelMismatch(t *testing.T) {
	agg := New(2)
	err := agg.Observe(audio.TickFromSamples([][]float32{constant(0.1, 4)}))

	assert.ErrorIs(t, err, ErrChannelMismatch)
	assert.Equal(t, 0, agg.Len())
}
