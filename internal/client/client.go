// ABOUTME: Listener client for jackstream servers
// ABOUTME: Connects, selects a channel, and delivers decoded samples and stats
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Transport names
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

const defaultDialTimeout = 5 * time.Second

var (
	// ErrHandshake is returned when the server's connect reply is missing or wrong
	ErrHandshake = errors.New("client: handshake failed")

	// ErrNotConnected is returned by operations that need a live connection
	ErrNotConnected = errors.New("client: not connected")

	errCorruptMeta = errors.New("client: corrupt META payload")
)

// Config holds client configuration
type Config struct {
	Transport string

	// Addr is host:port for TCP
	Addr string
	// URL is the ws:// endpoint for WebSocket
	URL string

	// Handshake sends connect over TCP too, for servers that require it
	Handshake bool

	// Channel is the 1-based channel to select after connecting. Zero keeps
	// the server default.
	Channel int

	DialTimeout time.Duration
}

// Client is a connected listener
type Client struct {
	config Config
	conn   conn
	mu     sync.RWMutex

	// Samples carries DATA payloads decoded to float32
	Samples chan []float32
	// Stats carries each META statistics record
	Stats chan protocol.Stats

	id      string
	channel int
	format  protocol.Format
	err     error

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
}

// NewClient creates a new client
func NewClient(config Config) *Client {
	if config.Transport == "" {
		config.Transport = TransportTCP
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:  config,
		Samples: make(chan []float32, 100),
		Stats:   make(chan protocol.Stats, 10),
		channel: protocol.DefaultChannel.Wire(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Connect dials the server, performs the handshake when needed and starts reading
func (c *Client) Connect() error {
	var (
		cn  conn
		err error
	)
	switch c.config.Transport {
	case TransportTCP:
		logrus.WithField("addr", c.config.Addr).Info("Connecting over TCP")
		cn, err = dialTCP(c.config.Addr, c.config.DialTimeout)
	case TransportWebSocket:
		logrus.WithField("url", c.config.URL).Info("Connecting over WebSocket")
		cn, err = dialWS(c.config.URL, c.config.DialTimeout)
	default:
		err = fmt.Errorf("unknown transport %q", c.config.Transport)
	}
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	c.conn = cn
	c.connected = true
	c.mu.Unlock()

	if c.config.Transport == TransportWebSocket || c.config.Handshake {
		if err := c.handshake(); err != nil {
			return c.fail(err)
		}
	}

	if c.config.Channel != 0 {
		if err := c.SelectChannel(c.config.Channel); err != nil {
			return c.fail(err)
		}
	}

	go c.readFrames()
	return nil
}

// fail ends a connect attempt so Done and Err report it
func (c *Client) fail(err error) error {
	c.Close()
	c.setErr(err)
	c.finish()
	return err
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// handshake sends connect and waits for the connected reply
func (c *Client) handshake() error {
	if err := c.sendJSON(protocol.Connect()); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.DialTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if f.Tag != frame.TagMeta {
			continue
		}

		ctrl, err := protocol.ParseControl(f.Payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if ctrl.Message != protocol.MessageConnected {
			return fmt.Errorf("%w: expected %q, got %q", ErrHandshake, protocol.MessageConnected, ctrl.Message)
		}

		c.mu.Lock()
		c.id = ctrl.ID
		if ctrl.ChannelSelect != nil {
			c.channel = *ctrl.ChannelSelect
		}
		c.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"id":      ctrl.ID,
			"version": ctrl.Version,
		}).Info("Handshake complete with server")
		return nil
	}
}

// sendJSON writes a control message as META
func (c *Client) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteMeta(payload)
}

// SelectChannel asks the server for a 1-based channel
func (c *Client) SelectChannel(n int) error {
	if err := c.sendJSON(protocol.ChannelSelect(n)); err != nil {
		return fmt.Errorf("failed to select channel %d: %w", n, err)
	}

	c.mu.Lock()
	c.channel = n
	c.mu.Unlock()

	logrus.WithField("channel", n).Info("Selected channel")
	return nil
}

// readFrames reads and routes incoming frames until the connection ends
func (c *Client) readFrames() {
	defer c.finish()
	defer c.Close()

	for {
		f, err := c.conn.ReadFrame()
		if errors.Is(err, errCorruptMeta) {
			logrus.Warn("Dropping corrupt META from server")
			continue
		}
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					c.setErr(err)
					logrus.WithError(err).Warn("Read error")
				}
			}
			return
		}

		switch f.Tag {
		case frame.TagData:
			c.handleData(f.Payload)
		case frame.TagMeta:
			c.handleMeta(f.Payload)
		}
	}
}

func (c *Client) handleData(payload []byte) {
	select {
	case c.Samples <- audio.DecodeFloat32(payload):
	case <-c.ctx.Done():
	}
}

func (c *Client) handleMeta(payload []byte) {
	var st protocol.Stats
	if err := json.Unmarshal(payload, &st); err != nil {
		logrus.WithError(err).Debug("Ignoring META that is not a stats record")
		return
	}
	if st.Format.ChannelCount == 0 {
		// A control echo or other non-stats object
		return
	}

	c.mu.Lock()
	c.format = st.Format
	c.mu.Unlock()

	select {
	case c.Stats <- st:
	default:
		// Stats are periodic; a slow consumer just skips one
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// ID returns the id assigned by the server's handshake, if any
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Channel returns the selected 1-based channel
func (c *Client) Channel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Format returns the stream format from the latest stats record
func (c *Client) Format() (protocol.Format, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format, c.format.ChannelCount > 0
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if it was not a clean close
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		logrus.Info("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
