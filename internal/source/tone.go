// ABOUTME: Test tone producer generating a sine wave per channel
// ABOUTME: Each channel gets its own frequency so channel routing is audible
package source

import (
	"context"
	"io"
	"math"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/protocol"
)

// ToneConfig configures the tone producer
type ToneConfig struct {
	Channels   int
	SampleRate int
	BlockSize  int

	// Frequencies per channel in Hz. Missing entries default to 440·(ch+1).
	Frequencies []float64

	// Amplitude is the peak level; above 1.0 the output clips
	Amplitude float64

	// Blocks ends the stream after this many ticks. Zero runs forever.
	Blocks int

	Realtime bool
}

// Tone generates sine waves
type Tone struct {
	config      ToneConfig
	frequencies []float64
	sampleIndex uint64
	emitted     int
	pacer       *pacer
}

// NewTone creates a tone producer
func NewTone(config ToneConfig) *Tone {
	if config.Channels <= 0 {
		config.Channels = DefaultChannels
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.BlockSize <= 0 {
		config.BlockSize = DefaultBlockSize
	}
	if config.Amplitude == 0 {
		config.Amplitude = 0.5
	}

	freqs := make([]float64, config.Channels)
	for ch := range freqs {
		if ch < len(config.Frequencies) && config.Frequencies[ch] > 0 {
			freqs[ch] = config.Frequencies[ch]
		} else {
			freqs[ch] = 440.0 * float64(ch+1)
		}
	}

	return &Tone{
		config:      config,
		frequencies: freqs,
		pacer:       newPacer(config.BlockSize, config.SampleRate, config.Realtime),
	}
}

// Next returns the next block of samples
func (t *Tone) Next(ctx context.Context) (audio.Tick, error) {
	if t.config.Blocks > 0 && t.emitted >= t.config.Blocks {
		return nil, io.EOF
	}
	if err := t.pacer.wait(ctx); err != nil {
		return nil, err
	}

	channels := make([][]float32, t.config.Channels)
	for ch, freq := range t.frequencies {
		samples := make([]float32, t.config.BlockSize)
		for i := range samples {
			x := float64(t.sampleIndex+uint64(i)) / float64(t.config.SampleRate)
			samples[i] = float32(t.config.Amplitude * math.Sin(2*math.Pi*freq*x))
		}
		channels[ch] = samples
	}

	t.sampleIndex += uint64(t.config.BlockSize)
	t.emitted++
	return audio.TickFromSamples(channels), nil
}

// Format describes the tone stream
func (t *Tone) Format() protocol.Format {
	return protocol.Float32Format(t.config.Channels, t.config.SampleRate)
}

func (t *Tone) Close() error { return nil }

// Title names the stream for status displays
func (t *Tone) Title() string { return "Test Tone" }
