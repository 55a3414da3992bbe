// ABOUTME: Framed connections to a jackstream server over TCP or WebSocket
// ABOUTME: Both expose the same read-frame / write-META surface to the client
package client

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackstream/jackstream-go/internal/frame"
)

// conn is one framed server connection
type conn interface {
	ReadFrame() (frame.Frame, error)
	WriteMeta(payload []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// tcpConn decodes frames from a raw socket
type tcpConn struct {
	conn net.Conn
	dec  *frame.Decoder
	buf  []byte
	wmu  sync.Mutex
}

func dialTCP(addr string, timeout time.Duration) (*tcpConn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return &tcpConn{conn: c, dec: frame.NewDecoder(), buf: make([]byte, 64*1024)}, nil
}

func (c *tcpConn) ReadFrame() (frame.Frame, error) {
	for {
		outcome, f := c.dec.Next()
		switch outcome {
		case frame.OK:
			return f, nil
		case frame.CorruptPayload:
			return f, errCorruptMeta
		}

		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.dec.Feed(c.buf[:n])
		}
		if err != nil {
			return frame.Frame{}, err
		}
	}
}

func (c *tcpConn) WriteMeta(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(frame.Encode(frame.TagMeta, payload))
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// wsConn maps WebSocket messages to frames
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func dialWS(url string, timeout time.Duration) (*wsConn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout

	c, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	c.SetReadLimit(frame.MaxPayload)
	return &wsConn{conn: c}, nil
}

func (c *wsConn) ReadFrame() (frame.Frame, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return frame.Frame{}, io.EOF
			}
			return frame.Frame{}, err
		}
		switch msgType {
		case websocket.TextMessage:
			return frame.Frame{Tag: frame.TagMeta, Payload: data}, nil
		case websocket.BinaryMessage:
			return frame.Frame{Tag: frame.TagData, Payload: data}, nil
		}
	}
}

func (c *wsConn) WriteMeta(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
