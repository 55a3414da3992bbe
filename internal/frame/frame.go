// ABOUTME: Tagged, length-prefixed wire framing for the jackstream protocol
// ABOUTME: Encodes META/DATA frames and decodes them from a resynchronizing byte stream
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// TagSize is the width of a frame tag in bytes
	TagSize = 4

	// HeaderSize is tag plus the int32 little-endian length field
	HeaderSize = TagSize + 4

	// MaxPayload is the largest length a decoder will believe. Anything larger
	// is treated as a false tag match rather than a real frame.
	MaxPayload = 16 << 20
)

// Tag identifies the frame kind on the wire
type Tag [TagSize]byte

var (
	// TagMeta carries a UTF-8 JSON object
	TagMeta = Tag{'M', 'E', 'T', 'A'}

	// TagData carries raw little-endian float32 samples for one channel
	TagData = Tag{'D', 'A', 'T', 'A'}
)

// knownTags is the closed set the decoder scans for
var knownTags = []Tag{TagMeta, TagData}

func (t Tag) String() string {
	return string(t[:])
}

// Frame is one tag+length+payload unit
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Encode returns the wire bytes for a frame
func Encode(tag Tag, payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), tag, payload)
}

// AppendFrame appends the wire bytes for a frame to dst
func AppendFrame(dst []byte, tag Tag, payload []byte) []byte {
	dst = append(dst, tag[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(len(payload))))
	return append(dst, payload...)
}

// EncodeJSON marshals v and wraps it in a META frame
func EncodeJSON(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal META payload: %w", err)
	}
	return Encode(TagMeta, payload), nil
}

// Outcome is the result of one decode attempt
type Outcome int

const (
	// NeedMoreData means no complete frame is buffered yet. Not an error.
	NeedMoreData Outcome = iota
	// OK means a frame was extracted
	OK
	// CorruptPayload means a META frame was extracted but its payload is not JSON.
	// The frame bytes are consumed so the stream stays aligned.
	CorruptPayload
)

func (o Outcome) String() string {
	switch o {
	case NeedMoreData:
		return "need-more-data"
	case OK:
		return "ok"
	case CorruptPayload:
		return "corrupt-payload"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// State is the decoder's position in the frame grammar
type State int

const (
	ScanningForTag State = iota
	AwaitingLength
	AwaitingPayload
)

func (s State) String() string {
	switch s {
	case ScanningForTag:
		return "scanning-for-tag"
	case AwaitingLength:
		return "awaiting-length"
	case AwaitingPayload:
		return "awaiting-payload"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decoder owns the decode buffer of one byte stream.
//
// Bytes in front of the first recognized tag are dropped only when a frame
// starting at that tag is consumed, so a desynchronized stream recovers at
// the next tag. Bytes already proven tag-free are never rescanned.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	state   State
	scanned int // offset where the next tag search starts
	tagAt   int
	tag     Tag
	length  int

	// keepGarbage disables trimming of long tag-free stretches. Set when the
	// buffer is borrowed from a caller (DecodeNext).
	keepGarbage bool
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly received bytes
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held in the decode buffer
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// State returns the current grammar state
func (d *Decoder) State() State {
	return d.state
}

// Reset drops all buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.state = ScanningForTag
	d.scanned = 0
}

// Next extracts the next frame from the buffer if one is complete
func (d *Decoder) Next() (Outcome, Frame) {
	for {
		switch d.state {
		case ScanningForTag:
			at, tag, ok := findTag(d.buf, d.scanned)
			if !ok {
				// Only a partial tag at the very end can still become a match.
				d.scanned = max(0, len(d.buf)-(TagSize-1))
				if d.scanned > MaxPayload && !d.keepGarbage {
					d.discard(d.scanned)
				}
				return NeedMoreData, Frame{}
			}
			d.tagAt, d.tag = at, tag
			d.state = AwaitingLength

		case AwaitingLength:
			if len(d.buf)-d.tagAt < HeaderSize {
				return NeedMoreData, Frame{}
			}
			n := int32(binary.LittleEndian.Uint32(d.buf[d.tagAt+TagSize:]))
			if n < 0 || n > MaxPayload {
				// Tag bytes occurred inside noise; resume one byte later.
				d.scanned = d.tagAt + 1
				d.state = ScanningForTag
				continue
			}
			d.length = int(n)
			d.state = AwaitingPayload

		case AwaitingPayload:
			end := d.tagAt + HeaderSize + d.length
			if len(d.buf) < end {
				return NeedMoreData, Frame{}
			}
			payload := make([]byte, d.length)
			copy(payload, d.buf[d.tagAt+HeaderSize:end])
			f := Frame{Tag: d.tag, Payload: payload}

			d.discard(end)
			d.state = ScanningForTag
			d.scanned = 0

			if f.Tag == TagMeta && !json.Valid(payload) {
				return CorruptPayload, f
			}
			return OK, f
		}
	}
}

// discard removes the first n bytes, compacting in place
func (d *Decoder) discard(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	d.scanned = max(0, d.scanned-n)
	d.tagAt = max(0, d.tagAt-n)
}

// DecodeNext runs one decode step over buf. On OK or CorruptPayload the
// consumed prefix is removed from *buf; on NeedMoreData *buf is unchanged.
func DecodeNext(buf *[]byte) (Outcome, Frame) {
	d := Decoder{buf: *buf, keepGarbage: true}
	outcome, f := d.Next()
	if outcome != NeedMoreData {
		*buf = d.buf
	}
	return outcome, f
}

// findTag returns the earliest known tag at or after off
func findTag(buf []byte, off int) (int, Tag, bool) {
	if off >= len(buf) {
		return 0, Tag{}, false
	}
	best := -1
	var bestTag Tag
	for _, tag := range knownTags {
		i := bytes.Index(buf[off:], tag[:])
		if i >= 0 && (best < 0 || off+i < best) {
			best = off + i
			bestTag = tag
		}
	}
	if best < 0 {
		return 0, Tag{}, false
	}
	return best, bestTag, true
}
