// ABOUTME: Audio output for the listener using the oto library
// ABOUTME: Plays one selected channel as mono float32 with software volume control
package player

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/sirupsen/logrus"
)

// ErrNotInitialized is returned by Play before Initialize succeeds
var ErrNotInitialized = errors.New("player: output not initialized")

// maxBufferedSeconds bounds playback latency; older audio is dropped first
const maxBufferedSeconds = 1

// Output manages audio output
type Output struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	stream     *streamBuffer
	sampleRate int
	volume     int
	muted      bool
	ready      bool
}

// NewOutput creates an audio output
func NewOutput() *Output {
	return &Output{
		volume: 100,
	}
}

// Initialize sets up oto for mono float32 at sampleRate. oto allows a single
// context per process, so a second call with a different rate fails.
func (o *Output) Initialize(sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ready {
		if sampleRate == o.sampleRate {
			return nil
		}
		return fmt.Errorf("output already running at %dHz", o.sampleRate)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.stream = newStreamBuffer(sampleRate * maxBufferedSeconds * 4)
	o.player = ctx.NewPlayer(o.stream)
	o.player.Play()
	o.sampleRate = sampleRate
	o.ready = true

	logrus.WithField("sample_rate", sampleRate).Info("Audio output initialized")
	return nil
}

// Play queues mono samples for playback
func (o *Output) Play(samples []float32) error {
	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	multiplier := getVolumeMultiplier(o.volume, o.muted)
	stream := o.stream
	o.mu.Unlock()

	dropped := stream.Write(audio.EncodeFloat32(applyVolume(samples, multiplier)))
	if dropped > 0 {
		logrus.WithField("bytes", dropped).Debug("Playback buffer full, dropped oldest audio")
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Output) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	o.mu.Lock()
	o.volume = volume
	o.mu.Unlock()
	logrus.WithField("volume", volume).Info("Volume set")
}

// SetMuted sets mute state
func (o *Output) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
	logrus.WithField("muted", muted).Info("Mute changed")
}

// GetVolume returns current volume
func (o *Output) GetVolume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// IsMuted returns mute state
func (o *Output) IsMuted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// Close stops playback
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
	}
	o.ready = false
}

// applyVolume scales samples and clamps them to [-1, 1]
func applyVolume(samples []float32, multiplier float64) []float32 {
	result := make([]float32, len(samples))
	for i, sample := range samples {
		v := float64(sample) * multiplier
		result[i] = float32(math.Max(-1, math.Min(1, v)))
	}
	return result
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

// streamBuffer feeds oto from network audio. Reads never block: when the
// buffer runs dry the remainder is silence.
type streamBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

var _ io.Reader = (*streamBuffer)(nil)

func newStreamBuffer(max int) *streamBuffer {
	return &streamBuffer{max: max}
}

// Write appends PCM bytes and returns how many old bytes were discarded to
// stay under the cap
func (b *streamBuffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	over := len(b.data) - b.max
	if over <= 0 {
		return 0
	}
	// keep sample alignment
	over += (4 - over%4) % 4
	b.data = b.data[over:]
	return over
}

func (b *streamBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(p, b.data)
	b.data = b.data[n:]
	clear(p[n:])
	return len(p), nil
}

// Len reports buffered bytes
func (b *streamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
