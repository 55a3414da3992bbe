// ABOUTME: File producer decoding MP3 and FLAC into per-channel float32 ticks
// ABOUTME: Streams at the file's native rate and optionally loops at end of file
package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// errEmptyFile stops a looping producer on a file with no audio
var errEmptyFile = errors.New("source: file contains no audio")

// pcmDecoder yields interleaved float32 frames in [-1, 1]
type pcmDecoder interface {
	// readFrames fills dst with whole frames and returns the frame count
	readFrames(dst []float32) (int, error)
	rewind() error
	channels() int
	sampleRate() int
	close() error
}

// File streams a decoded audio file
type File struct {
	title     string
	dec       pcmDecoder
	blockSize int
	loop      bool
	pacer     *pacer
	buf       []float32
}

// NewFile opens an MP3 or FLAC file
func NewFile(path string, blockSize int, loop, realtime bool) (*File, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var (
		dec pcmDecoder
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		dec, err = openMP3(path)
	case ".flac":
		dec, err = openFLAC(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	logrus.WithFields(logrus.Fields{
		"title":      title,
		"samplerate": dec.sampleRate(),
		"channels":   dec.channels(),
		"loop":       loop,
	}).Info("Loaded audio file")

	return &File{
		title:     title,
		dec:       dec,
		blockSize: blockSize,
		loop:      loop,
		pacer:     newPacer(blockSize, dec.sampleRate(), realtime),
		buf:       make([]float32, blockSize*dec.channels()),
	}, nil
}

// Next decodes one block. A short final block is returned before io.EOF.
func (f *File) Next(ctx context.Context) (audio.Tick, error) {
	if err := f.pacer.wait(ctx); err != nil {
		return nil, err
	}

	channels := f.dec.channels()
	filled := 0
	emptyPasses := 0
	for filled < f.blockSize {
		n, err := f.dec.readFrames(f.buf[filled*channels:])
		filled += n
		if n > 0 {
			emptyPasses = 0
		}

		if errors.Is(err, io.EOF) {
			if !f.loop {
				break
			}
			if emptyPasses++; emptyPasses > 1 {
				return nil, errEmptyFile
			}
			if err := f.dec.rewind(); err != nil {
				return nil, fmt.Errorf("failed to loop %s: %w", f.title, err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	if filled == 0 {
		return nil, io.EOF
	}
	return audio.TickFromSamples(audio.Deinterleave(f.buf[:filled*channels], channels)), nil
}

// Format describes the decoded stream
func (f *File) Format() protocol.Format {
	return protocol.Float32Format(f.dec.channels(), f.dec.sampleRate())
}

// Title names the stream for status displays
func (f *File) Title() string { return f.title }

func (f *File) Close() error {
	return f.dec.close()
}

// mp3Decoder wraps go-mp3, which always produces 16-bit stereo
type mp3Decoder struct {
	file    *os.File
	decoder *mp3.Decoder
	raw     []byte
}

func openMP3(path string) (*mp3Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	return &mp3Decoder{file: f, decoder: decoder}, nil
}

func (d *mp3Decoder) readFrames(dst []float32) (int, error) {
	frames := len(dst) / 2
	need := frames * 4
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]

	n, err := io.ReadFull(d.decoder, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	got := n / 4
	for i := 0; i < got*2; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		dst[i] = float32(s) / 32768.0
	}
	return got, err
}

func (d *mp3Decoder) rewind() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	decoder, err := mp3.NewDecoder(d.file)
	if err != nil {
		return fmt.Errorf("failed to create new decoder: %w", err)
	}
	d.decoder = decoder
	return nil
}

func (d *mp3Decoder) channels() int   { return 2 }
func (d *mp3Decoder) sampleRate() int { return d.decoder.SampleRate() }
func (d *mp3Decoder) close() error    { return d.file.Close() }

// flacDecoder wraps mewkiz/flac, holding decoded samples between blocks
type flacDecoder struct {
	file    *os.File
	stream  *flac.Stream
	nch     int
	rate    int
	scale   float32
	pending []float32
}

func openFLAC(path string) (*flacDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &flacDecoder{
		file:   f,
		stream: stream,
		nch:    int(info.NChannels),
		rate:   int(info.SampleRate),
		scale:  1.0 / float32(int64(1)<<(info.BitsPerSample-1)),
	}, nil
}

func (d *flacDecoder) readFrames(dst []float32) (int, error) {
	want := len(dst) / d.nch
	filled := 0

	for filled < want {
		if len(d.pending) == 0 {
			fr, err := d.stream.ParseNext()
			if err != nil {
				return filled, err
			}
			block := int(fr.BlockSize)
			for i := 0; i < block; i++ {
				for ch := 0; ch < d.nch; ch++ {
					d.pending = append(d.pending, float32(fr.Subframes[ch].Samples[i])*d.scale)
				}
			}
		}

		n := min(want-filled, len(d.pending)/d.nch)
		copy(dst[filled*d.nch:], d.pending[:n*d.nch])
		d.pending = d.pending[n*d.nch:]
		filled += n
	}
	return filled, nil
}

func (d *flacDecoder) rewind() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(d.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	d.stream = stream
	d.pending = d.pending[:0]
	return nil
}

func (d *flacDecoder) channels() int   { return d.nch }
func (d *flacDecoder) sampleRate() int { return d.rate }
func (d *flacDecoder) close() error    { return d.file.Close() }
