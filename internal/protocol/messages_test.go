// ABOUTME: Tests for jackstream META message types
// ABOUTME: Verifies field names on the wire and NaN handling for levels
package protocol

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsWireFields(t *testing.T) {
	stats := Stats{
		RMS:    Levels([]float64{0.5, math.NaN()}),
		Clips:  []int{1, 0},
		Format: Float32Format(2, 48000),
	}

	data, err := json.Marshal(stats)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"rms": [0.5, null],
		"clips": [1, 0],
		"format": {
			"channel_count": 2,
			"samplerate": 48000,
			"samplesize": 32,
			"sampletype": "float",
			"byteorder": "little",
			"codec": "audio/pcm"
		}
	}`, string(data))
}

func TestLevelNullRoundTrip(t *testing.T) {
	var stats Stats
	require.NoError(t, json.Unmarshal([]byte(`{"rms":[null,0.25],"clips":[0,3]}`), &stats))

	require.Len(t, stats.RMS, 2)
	assert.True(t, math.IsNaN(float64(stats.RMS[0])))
	assert.Equal(t, Level(0.25), stats.RMS[1])
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantMsg   string
		wantChan  int
		hasChan   bool
		expectErr bool
	}{
		{
			name:     "channel select",
			payload:  `{"message":"channel_select","channel_select":2}`,
			wantMsg:  MessageChannelSelect,
			wantChan: 2,
			hasChan:  true,
		},
		{
			name:     "bare channel select",
			payload:  `{"channel_select":7}`,
			wantChan: 7,
			hasChan:  true,
		},
		{
			name:    "connect",
			payload: `{"message":"connect"}`,
			wantMsg: MessageConnect,
		},
		{
			name:      "not an object",
			payload:   `[1,2]`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseControl([]byte(tt.payload))
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, c.Message)
			if tt.hasChan {
				require.NotNil(t, c.ChannelSelect)
				assert.Equal(t, tt.wantChan, *c.ChannelSelect)
			} else {
				assert.Nil(t, c.ChannelSelect)
			}
		})
	}
}

func TestConnectedReply(t *testing.T) {
	data, err := json.Marshal(Connected("abc", DefaultChannel))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"connected","channel_select":1,"id":"abc","version":"0.01"}`, string(data))
}

func TestChannelConversion(t *testing.T) {
	ch := ChannelFromWire(2)
	assert.Equal(t, Channel(1), ch)
	assert.Equal(t, 2, ch.Wire())

	assert.True(t, ChannelFromWire(1).InRange(2))
	assert.True(t, ChannelFromWire(2).InRange(2))
	assert.False(t, ChannelFromWire(3).InRange(2))
	assert.False(t, ChannelFromWire(0).InRange(2))
	assert.False(t, ChannelFromWire(-4).InRange(2))
}
