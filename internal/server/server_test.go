// ABOUTME: End-to-end server tests over real TCP and WebSocket connections
// ABOUTME: Uses a level-coded producer so each channel's DATA is identifiable
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelProducer emits channel k as a constant 0.1·(k+1)
type levelProducer struct {
	channels int
	block    int
	blocks   int // zero runs forever
	period   time.Duration
	emitted  int
}

func (p *levelProducer) Next(ctx context.Context) (audio.Tick, error) {
	if p.blocks > 0 && p.emitted >= p.blocks {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.period):
	}
	p.emitted++

	chans := make([][]float32, p.channels)
	for ch := range chans {
		chans[ch] = make([]float32, p.block)
		for i := range chans[ch] {
			chans[ch][i] = 0.1 * float32(ch+1)
		}
	}
	return audio.TickFromSamples(chans), nil
}

func (p *levelProducer) Format() protocol.Format {
	return protocol.Float32Format(p.channels, 48000)
}

func (p *levelProducer) Close() error { return nil }

// running tracks a server started in the background
type running struct {
	err  error
	done chan struct{}
}

func startServer(t *testing.T, cfg Config, p *levelProducer) (*Server, *running) {
	t.Helper()
	cfg.TCPAddr = "127.0.0.1:0"
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = 50 * time.Millisecond
	}

	s := New(cfg, p)
	require.NoError(t, s.Listen())

	r := &running{done: make(chan struct{})}
	go func() {
		r.err = s.Start()
		close(r.done)
	}()
	t.Cleanup(func() {
		s.Stop()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s, r
}

// tcpReader reads frames from a raw connection
type tcpReader struct {
	conn net.Conn
	dec  *frame.Decoder
	buf  []byte
}

func newTCPReader(conn net.Conn) *tcpReader {
	return &tcpReader{conn: conn, dec: frame.NewDecoder(), buf: make([]byte, 4096)}
}

func (r *tcpReader) next(t *testing.T) frame.Frame {
	t.Helper()
	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		outcome, f := r.dec.Next()
		if outcome == frame.OK {
			return f
		}
		require.NotEqual(t, frame.CorruptPayload, outcome)

		n, err := r.conn.Read(r.buf)
		require.NoError(t, err)
		r.dec.Feed(r.buf[:n])
	}
}

// nextTag skips frames until one with tag arrives
func (r *tcpReader) nextTag(t *testing.T, tag frame.Tag) frame.Frame {
	t.Helper()
	for {
		if f := r.next(t); f.Tag == tag {
			return f
		}
	}
}

func firstSample(t *testing.T, payload []byte) float32 {
	t.Helper()
	samples := audio.DecodeFloat32(payload)
	require.NotEmpty(t, samples)
	return samples[0]
}

func TestTCPClientReceivesDataAndStats(t *testing.T) {
	s, _ := startServer(t, Config{}, &levelProducer{channels: 2, block: 16, period: 5 * time.Millisecond})

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := newTCPReader(conn)

	data := r.nextTag(t, frame.TagData)
	assert.Len(t, data.Payload, 16*4)
	assert.InDelta(t, 0.1, firstSample(t, data.Payload), 1e-6, "default is the first channel")

	meta := r.nextTag(t, frame.TagMeta)
	var st protocol.Stats
	require.NoError(t, json.Unmarshal(meta.Payload, &st))
	require.Len(t, st.RMS, 2)
	assert.Equal(t, 2, st.Format.ChannelCount)
	assert.Equal(t, "little", st.Format.ByteOrder)

	sel, err := frame.EncodeJSON(protocol.ChannelSelect(2))
	require.NoError(t, err)
	_, err = conn.Write(sel)
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f := r.nextTag(t, frame.TagData)
		if math32Near(firstSample(t, f.Payload), 0.2) {
			return
		}
	}
	t.Fatal("never switched to channel 2")
}

func math32Near(a, b float32) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}

func TestTCPHandshakeWhenRequired(t *testing.T) {
	s, _ := startServer(t, Config{RequireHandshake: true}, &levelProducer{channels: 1, block: 8, period: 5 * time.Millisecond})

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	hello, err := frame.EncodeJSON(protocol.Connect())
	require.NoError(t, err)
	_, err = conn.Write(hello)
	require.NoError(t, err)

	r := newTCPReader(conn)
	reply := r.next(t)
	require.Equal(t, frame.TagMeta, reply.Tag)

	ctrl, err := protocol.ParseControl(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageConnected, ctrl.Message)
	assert.NotEmpty(t, ctrl.ID)
	assert.Equal(t, protocol.Version, ctrl.Version)

	r.nextTag(t, frame.TagData)
	assert.Equal(t, 1, s.Registry().Len())
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	url := "ws://" + s.WSAddr().String() + DefaultWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHandshakeAndChannelSelect(t *testing.T) {
	s, _ := startServer(t, Config{WSAddr: "127.0.0.1:0"}, &levelProducer{channels: 3, block: 8, period: 5 * time.Millisecond})
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(protocol.Connect()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var reply protocol.Control
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.Equal(t, protocol.MessageConnected, reply.Message)
	assert.NotEmpty(t, reply.ID)
	require.NotNil(t, reply.ChannelSelect)
	assert.Equal(t, 1, *reply.ChannelSelect)
	assert.Equal(t, "0.01", reply.Version)

	require.NoError(t, conn.WriteJSON(protocol.ChannelSelect(3)))

	sawMeta := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.TextMessage {
			var st protocol.Stats
			require.NoError(t, json.Unmarshal(data, &st))
			sawMeta = len(st.RMS) == 3
			continue
		}
		if math32Near(firstSample(t, data), 0.3) && sawMeta {
			return
		}
	}
	t.Fatal("never received channel 3 data after stats")
}

func TestWebSocketRejectsMissingConnect(t *testing.T) {
	s, _ := startServer(t, Config{WSAddr: "127.0.0.1:0"}, &levelProducer{channels: 1, block: 8, period: 5 * time.Millisecond})
	conn := dialWS(t, s)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, s.Registry().Len())
}

func TestProducerEndClosesClients(t *testing.T) {
	p := &levelProducer{channels: 1, block: 8, blocks: 100, period: 5 * time.Millisecond}
	s, run := startServer(t, Config{}, p)

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.Copy(io.Discard, conn)
	require.NoError(t, err, "server closed the stream cleanly")

	select {
	case <-run.done:
		assert.NoError(t, run.err)
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after producer end")
	}
}

func TestPendingHandshakeAbortedAtProducerEnd(t *testing.T) {
	p := &levelProducer{channels: 1, block: 8, blocks: 20, period: 5 * time.Millisecond}
	s, run := startServer(t, Config{RequireHandshake: true, HandshakeTimeout: 30 * time.Second}, p)

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Stay silent until the producer has finished
	select {
	case <-run.done:
		assert.NoError(t, run.err)
	case <-time.After(5 * time.Second):
		t.Fatal("server waited out the handshake timeout")
	}

	hello, err := frame.EncodeJSON(protocol.Connect())
	require.NoError(t, err)
	conn.Write(hello)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := io.ReadAll(conn)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection left open")
	}
	assert.Empty(t, data, "no connected reply after shutdown")
	assert.Equal(t, 0, s.Registry().Len())
}

func serveTCP(t *testing.T, config TCPConfig, reg *registry.Registry) *TCPAcceptor {
	t.Helper()
	config.Addr = "127.0.0.1:0"
	a, err := NewTCPAcceptor(config, reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-served)
	})
	return a
}

func TestTCPAcceptorRefusesClientsAfterCloseAll(t *testing.T) {
	reg := registry.New()
	reg.CloseAll()

	t.Run("handshake", func(t *testing.T) {
		a := serveTCP(t, TCPConfig{RequireHandshake: true}, reg)
		conn, err := net.Dial("tcp", a.Addr().String())
		require.NoError(t, err)
		defer conn.Close()

		hello, err := frame.EncodeJSON(protocol.Connect())
		require.NoError(t, err)
		_, err = conn.Write(hello)
		require.NoError(t, err)

		r := newTCPReader(conn)
		reply := r.next(t)
		ctrl, err := protocol.ParseControl(reply.Payload)
		require.NoError(t, err)
		assert.Equal(t, protocol.MessageConnected, ctrl.Message)

		_, err = io.Copy(io.Discard, conn)
		require.NoError(t, err, "server hung up after refusing registration")
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("plain", func(t *testing.T) {
		a := serveTCP(t, TCPConfig{}, reg)
		conn, err := net.Dial("tcp", a.Addr().String())
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, err = io.Copy(io.Discard, conn)
		require.NoError(t, err)
		assert.Equal(t, 0, reg.Len())
	})
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	s, _ := startServer(t, Config{}, &levelProducer{channels: 1, block: 8, period: 5 * time.Millisecond})

	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestListenFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(Config{TCPAddr: ln.Addr().String()}, &levelProducer{channels: 1, block: 8})
	err = s.Listen()
	require.Error(t, err)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}
