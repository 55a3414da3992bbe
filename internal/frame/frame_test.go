// ABOUTME: Tests for the frame codec
// ABOUTME: Covers round trips, partial reads, resynchronization and corrupt META payloads
package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain pulls every complete frame out of the decoder
func drain(d *Decoder) ([]Frame, []Outcome) {
	var frames []Frame
	var outcomes []Outcome
	for {
		outcome, f := d.Next()
		if outcome == NeedMoreData {
			return frames, outcomes
		}
		frames = append(frames, f)
		outcomes = append(outcomes, outcome)
	}
}

func TestEncodeLayout(t *testing.T) {
	wire := Encode(TagData, []byte{1, 2, 3})

	require.Len(t, wire, HeaderSize+3)
	assert.Equal(t, []byte("DATA"), wire[:4])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(wire[4:8]))
	assert.Equal(t, []byte{1, 2, 3}, wire[8:])
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 65536} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		d := NewDecoder()
		d.Feed(Encode(TagData, payload))

		outcome, f := d.Next()
		require.Equal(t, OK, outcome, "size %d", size)
		assert.Equal(t, TagData, f.Tag)
		assert.Equal(t, payload, f.Payload)
		assert.Equal(t, 0, d.Buffered())
	}
}

func TestRoundTripMeta(t *testing.T) {
	wire, err := EncodeJSON(map[string]int{"channel_select": 2})
	require.NoError(t, err)

	d := NewDecoder()
	d.Feed(wire)
	outcome, f := d.Next()

	require.Equal(t, OK, outcome)
	assert.Equal(t, TagMeta, f.Tag)
	assert.JSONEq(t, `{"channel_select":2}`, string(f.Payload))
}

func TestIncrementalFeedEquivalence(t *testing.T) {
	var stream []byte
	stream = append(stream, []byte("noise")...)
	stream = append(stream, Encode(TagMeta, []byte(`{"rms":[0.1]}`))...)
	stream = append(stream, Encode(TagData, bytes.Repeat([]byte{0xAB}, 300))...)
	stream = append(stream, []byte("DAT")...)
	stream = append(stream, Encode(TagMeta, []byte(`not json`))...)
	stream = append(stream, Encode(TagData, nil)...)

	whole := NewDecoder()
	whole.Feed(stream)
	wantFrames, wantOutcomes := drain(whole)
	require.Len(t, wantFrames, 4)

	bytewise := NewDecoder()
	var gotFrames []Frame
	var gotOutcomes []Outcome
	for _, b := range stream {
		bytewise.Feed([]byte{b})
		frames, outcomes := drain(bytewise)
		gotFrames = append(gotFrames, frames...)
		gotOutcomes = append(gotOutcomes, outcomes...)
	}

	assert.Equal(t, wantFrames, gotFrames)
	assert.Equal(t, wantOutcomes, gotOutcomes)
}

func TestResyncAfterGarbage(t *testing.T) {
	garbage := []byte{0x00, 0xFF, 'x', 'M', 'E', 'T', 0x10, 0x20}
	good := Encode(TagData, []byte{9, 8, 7, 6})
	trailer := []byte("tail")

	d := NewDecoder()
	d.Feed(garbage)

	outcome, _ := d.Next()
	assert.Equal(t, NeedMoreData, outcome)
	assert.Equal(t, len(garbage), d.Buffered(), "garbage is kept until a tag is found")

	d.Feed(good)
	d.Feed(trailer)
	outcome, f := d.Next()
	require.Equal(t, OK, outcome)
	assert.Equal(t, []byte{9, 8, 7, 6}, f.Payload)
	assert.Equal(t, len(trailer), d.Buffered(), "prefix through the frame is discarded exactly")
}

func TestPartialHeaderAndPayload(t *testing.T) {
	wire := Encode(TagData, []byte{1, 2, 3, 4, 5})
	d := NewDecoder()

	d.Feed(wire[:6])
	outcome, _ := d.Next()
	assert.Equal(t, NeedMoreData, outcome)
	assert.Equal(t, AwaitingLength, d.State())

	d.Feed(wire[6:10])
	outcome, _ = d.Next()
	assert.Equal(t, NeedMoreData, outcome)
	assert.Equal(t, AwaitingPayload, d.State())

	d.Feed(wire[10:])
	outcome, f := d.Next()
	require.Equal(t, OK, outcome)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, f.Payload)
	assert.Equal(t, ScanningForTag, d.State())
}

func TestCorruptMetaKeepsAlignment(t *testing.T) {
	d := NewDecoder()
	d.Feed(Encode(TagMeta, []byte("{broken")))
	d.Feed(Encode(TagMeta, []byte(`{"ok":true}`)))

	outcome, f := d.Next()
	assert.Equal(t, CorruptPayload, outcome)
	assert.Equal(t, []byte("{broken"), f.Payload)

	outcome, f = d.Next()
	require.Equal(t, OK, outcome)
	assert.JSONEq(t, `{"ok":true}`, string(f.Payload))
}

func TestDataPayloadNotValidated(t *testing.T) {
	d := NewDecoder()
	d.Feed(Encode(TagData, []byte("{broken")))

	outcome, f := d.Next()
	assert.Equal(t, OK, outcome)
	assert.Equal(t, []byte("{broken"), f.Payload)
}

func TestImplausibleLengthIsFalseTag(t *testing.T) {
	tests := []struct {
		name   string
		length int32
	}{
		{name: "negative", length: -5},
		{name: "oversized", length: MaxPayload + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bogus := append([]byte("DATA"), binary.LittleEndian.AppendUint32(nil, uint32(tt.length))...)

			d := NewDecoder()
			d.Feed(bogus)
			outcome, _ := d.Next()
			assert.Equal(t, NeedMoreData, outcome)

			d.Feed(Encode(TagMeta, []byte(`{}`)))
			outcome, f := d.Next()
			require.Equal(t, OK, outcome)
			assert.Equal(t, TagMeta, f.Tag)
			assert.Equal(t, 0, d.Buffered())
		})
	}
}

func TestEarliestTagWins(t *testing.T) {
	// A DATA frame whose payload happens to contain the META tag.
	payload := []byte("xxMETAyy")
	d := NewDecoder()
	d.Feed(Encode(TagData, payload))

	outcome, f := d.Next()
	require.Equal(t, OK, outcome)
	assert.Equal(t, TagData, f.Tag)
	assert.Equal(t, payload, f.Payload)
}

func TestDecodeNext(t *testing.T) {
	buf := append([]byte("junk"), Encode(TagData, []byte{1})...)
	buf = append(buf, 'D', 'A')

	outcome, f := DecodeNext(&buf)
	require.Equal(t, OK, outcome)
	assert.Equal(t, []byte{1}, f.Payload)
	assert.Equal(t, []byte{'D', 'A'}, buf)

	outcome, _ = DecodeNext(&buf)
	assert.Equal(t, NeedMoreData, outcome)
	assert.Equal(t, []byte{'D', 'A'}, buf)
}

func TestReset(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("META\x05"))
	d.Next()

	d.Reset()
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, ScanningForTag, d.State())
}
