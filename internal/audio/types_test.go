// ABOUTME: Tests for audio buffer helpers
// ABOUTME: Verifies float32 packing and deinterleaving
package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32Packing(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, -0.25}
	buf := EncodeFloat32(samples)

	require.Len(t, buf, 20)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, buf[4:8], "1.0 little-endian")
	assert.Equal(t, samples, DecodeFloat32(buf))
	assert.Len(t, DecodeFloat32(buf[:7]), 1)
}

func TestDeinterleave(t *testing.T) {
	out := Deinterleave([]float32{1, 10, 2, 20, 3, 30}, 2)

	assert.Equal(t, [][]float32{{1, 2, 3}, {10, 20, 30}}, out)
}

func TestTickFromSamples(t *testing.T) {
	tick := TickFromSamples([][]float32{{1}, {2}, {3}})

	assert.Equal(t, 3, tick.Channels())
	assert.Equal(t, []float32{2}, DecodeFloat32(tick[1]))
}
