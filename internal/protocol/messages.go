// ABOUTME: jackstream META message type definitions
// ABOUTME: Defines the stats, format and control payloads carried in META frames
package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackstream/jackstream-go/internal/version"
)

// Version is reported to clients in the handshake reply
const Version = version.Version

// Values of the "message" field
const (
	MessageConnect       = "connect"
	MessageConnected     = "connected"
	MessageChannelSelect = "channel_select"
)

// Format describes the session's sample stream. Fixed for the life of a server.
type Format struct {
	ChannelCount int    `json:"channel_count"`
	SampleRate   int    `json:"samplerate"`
	SampleSize   int    `json:"samplesize"`
	SampleType   string `json:"sampletype"`
	ByteOrder    string `json:"byteorder"`
	Codec        string `json:"codec"`
}

// Float32Format is the only format the server emits: raw little-endian float32 PCM
func Float32Format(channels, sampleRate int) Format {
	return Format{
		ChannelCount: channels,
		SampleRate:   sampleRate,
		SampleSize:   32,
		SampleType:   "float",
		ByteOrder:    "little",
		Codec:        "audio/pcm",
	}
}

// BytesPerSample returns SampleSize in bytes
func (f Format) BytesPerSample() int {
	return f.SampleSize / 8
}

// Level is an RMS reading. NaN means "no data yet" and travels as JSON null.
type Level float64

func (l Level) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(l))
}

func (l *Level) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = Level(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Level(v)
	return nil
}

// Levels converts raw RMS values
func Levels(rms []float64) []Level {
	out := make([]Level, len(rms))
	for i, v := range rms {
		out[i] = Level(v)
	}
	return out
}

// Stats is the periodic server-to-client statistics payload
type Stats struct {
	RMS    []Level `json:"rms"`
	Clips  []int   `json:"clips"`
	Format Format  `json:"format"`
}

// Control is a client-to-server control payload, and also the server's
// handshake reply.
type Control struct {
	Message       string `json:"message,omitempty"`
	ChannelSelect *int   `json:"channel_select,omitempty"`
	ID            string `json:"id,omitempty"`
	Version       string `json:"version,omitempty"`
}

// ParseControl decodes a META payload as a control message
func ParseControl(payload []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(payload, &c); err != nil {
		return Control{}, fmt.Errorf("invalid control message: %w", err)
	}
	return c, nil
}

// ChannelSelect builds the control message a client sends to pick a channel.
// n is the 1-based wire channel number.
func ChannelSelect(n int) Control {
	return Control{Message: MessageChannelSelect, ChannelSelect: &n}
}

// Connect builds the handshake request
func Connect() Control {
	return Control{Message: MessageConnect}
}

// Connected builds the handshake reply
func Connected(id string, ch Channel) Control {
	n := ch.Wire()
	return Control{
		Message:       MessageConnected,
		ChannelSelect: &n,
		ID:            id,
		Version:       Version,
	}
}
