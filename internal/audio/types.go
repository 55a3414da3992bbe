// ABOUTME: Audio tick and sample buffer definitions
// ABOUTME: Converts between float32 samples and little-endian wire buffers
package audio

import (
	"encoding/binary"
	"math"
)

// Tick is one producer delivery: one raw little-endian float32 buffer per channel
type Tick [][]byte

// Channels returns the number of channel buffers in the tick
func (t Tick) Channels() int {
	return len(t)
}

// EncodeFloat32 packs samples as little-endian float32 bytes
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32 unpacks little-endian float32 bytes. A trailing partial sample is ignored.
func DecodeFloat32(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// TickFromSamples builds a tick from per-channel sample slices
func TickFromSamples(channels [][]float32) Tick {
	tick := make(Tick, len(channels))
	for ch, samples := range channels {
		tick[ch] = EncodeFloat32(samples)
	}
	return tick
}

// Deinterleave splits interleaved frames into per-channel slices
func Deinterleave(interleaved []float32, channels int) [][]float32 {
	frames := len(interleaved) / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = interleaved[i*channels+ch]
		}
	}
	return out
}
