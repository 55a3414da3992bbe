// ABOUTME: Tests for the listener client against a live server
// ABOUTME: Exercises TCP and WebSocket connects, channel selection and stats delivery
package client

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steadyProducer emits channel k as a constant 0.25·(k+1)
type steadyProducer struct {
	channels int
	blocks   int
	emitted  int
}

func (p *steadyProducer) Next(ctx context.Context) (audio.Tick, error) {
	if p.blocks > 0 && p.emitted >= p.blocks {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	p.emitted++

	chans := make([][]float32, p.channels)
	for ch := range chans {
		chans[ch] = []float32{0.25 * float32(ch+1), 0.25 * float32(ch+1)}
	}
	return audio.TickFromSamples(chans), nil
}

func (p *steadyProducer) Format() protocol.Format { return protocol.Float32Format(p.channels, 44100) }

func (p *steadyProducer) Close() error { return nil }

func startServer(t *testing.T, cfg server.Config, p *steadyProducer) *server.Server {
	t.Helper()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.StatsInterval = 50 * time.Millisecond

	s := server.New(cfg, p)
	require.NoError(t, s.Listen())

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()
	t.Cleanup(func() {
		s.Stop()
		<-done
	})
	return s
}

// waitForLevel reads samples until the first one equals want
func waitForLevel(t *testing.T, c *Client, want float32) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case samples := <-c.Samples:
			if len(samples) > 0 && samples[0] == want {
				return
			}
		case <-timeout:
			t.Fatalf("never received level %v", want)
		}
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{Addr: "localhost:8080"})

	assert.Equal(t, TransportTCP, c.config.Transport)
	assert.Equal(t, 1, c.Channel())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.SelectChannel(2), ErrNotConnected)
}

func TestTCPListen(t *testing.T) {
	s := startServer(t, server.Config{}, &steadyProducer{channels: 3})

	c := NewClient(Config{Addr: s.TCPAddr().String(), Channel: 2})
	require.NoError(t, c.Connect())
	defer c.Close()

	waitForLevel(t, c, 0.5)

	select {
	case st := <-c.Stats:
		assert.Len(t, st.RMS, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("no stats")
	}
	f, ok := c.Format()
	require.True(t, ok)
	assert.Equal(t, 44100, f.SampleRate)

	require.NoError(t, c.SelectChannel(3))
	waitForLevel(t, c, 0.75)
	assert.Equal(t, 3, c.Channel())
}

func TestWebSocketListen(t *testing.T) {
	s := startServer(t, server.Config{WSAddr: "127.0.0.1:0"}, &steadyProducer{channels: 2})

	c := NewClient(Config{
		Transport: TransportWebSocket,
		URL:       "ws://" + s.WSAddr().String() + server.DefaultWSPath,
	})
	require.NoError(t, c.Connect())
	defer c.Close()

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, 1, c.Channel())
	waitForLevel(t, c, 0.25)

	require.NoError(t, c.SelectChannel(2))
	waitForLevel(t, c, 0.5)
}

func TestTCPHandshakeOption(t *testing.T) {
	s := startServer(t, server.Config{RequireHandshake: true}, &steadyProducer{channels: 1})

	c := NewClient(Config{Addr: s.TCPAddr().String(), Handshake: true})
	require.NoError(t, c.Connect())
	defer c.Close()

	assert.NotEmpty(t, c.ID())
	waitForLevel(t, c, 0.25)
}

func TestServerEndClosesClient(t *testing.T) {
	s := startServer(t, server.Config{}, &steadyProducer{channels: 1, blocks: 40})

	c := NewClient(Config{Addr: s.TCPAddr().String()})
	require.NoError(t, c.Connect())

	go func() {
		for range c.Samples {
		}
	}()

	select {
	case <-c.Done():
		assert.NoError(t, c.Err())
		assert.False(t, c.IsConnected())
	case <-time.After(5 * time.Second):
		t.Fatal("client still connected after server end")
	}
}

func TestConnectRefused(t *testing.T) {
	c := NewClient(Config{Addr: "127.0.0.1:1", DialTimeout: time.Second})
	err := c.Connect()
	require.Error(t, err)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after a failed connect")
	}
	assert.Equal(t, err, c.Err())
	assert.False(t, c.IsConnected())
}

func TestHandshakeFailureClosesDone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Hang up without answering connect
		conn.Close()
	}()

	c := NewClient(Config{Addr: ln.Addr().String(), Handshake: true, DialTimeout: time.Second})
	err = c.Connect()
	require.ErrorIs(t, err, ErrHandshake)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after a failed handshake")
	}
	assert.ErrorIs(t, c.Err(), ErrHandshake)
}
