// ABOUTME: Producer abstraction delivering per-channel float32 audio ticks
// ABOUTME: Opens a file producer for MP3/FLAC paths or a test tone when no path is given
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/protocol"
)

const (
	// DefaultSampleRate is used by the tone producer
	DefaultSampleRate = 48000

	// DefaultBlockSize is the number of frames per tick
	DefaultBlockSize = 1024

	// DefaultChannels is used by the tone producer
	DefaultChannels = 2
)

// ErrUnsupportedFormat is returned for file types without a decoder
var ErrUnsupportedFormat = errors.New("source: unsupported audio format")

// Producer delivers ticks at real-time cadence. Next returns io.EOF when
// the source is exhausted.
type Producer interface {
	Next(ctx context.Context) (audio.Tick, error)
	Format() protocol.Format
	Close() error
}

// Config selects and tunes a producer
type Config struct {
	// Path to an MP3 or FLAC file. Empty selects the test tone.
	Path string

	// Loop restarts files at EOF
	Loop bool

	// BlockSize is frames per tick
	BlockSize int

	// Realtime paces Next to the sample rate
	Realtime bool

	// Tone settings, used when Path is empty
	Tone ToneConfig
}

// Open creates the producer described by cfg
func Open(cfg Config) (Producer, error) {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	if cfg.Path == "" {
		tone := cfg.Tone
		if tone.BlockSize == 0 {
			tone.BlockSize = cfg.BlockSize
		}
		tone.Realtime = cfg.Realtime
		return NewTone(tone), nil
	}

	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(cfg.Path))
	switch ext {
	case ".mp3", ".flac":
		return NewFile(cfg.Path, cfg.BlockSize, cfg.Loop, cfg.Realtime)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac)", ErrUnsupportedFormat, ext)
	}
}
