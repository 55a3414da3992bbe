// ABOUTME: WebSocket transport mapping jackstream frames onto WebSocket messages
// ABOUTME: META travels as text messages and DATA as binary messages
package server

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackstream/jackstream-go/internal/frame"
)

const (
	wsPingPeriod   = 30 * time.Second
	wsPingDeadline = 10 * time.Second
)

// newWSTransport wraps an upgraded connection whose handshake has completed.
// Inbound messages are re-framed so the fan-out loop decodes every transport
// the same way.
func newWSTransport(conn *websocket.Conn, cfg TransportConfig) *streamConn {
	cfg = cfg.withDefaults()
	closer := func() error {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	s := newStreamConn("websocket", conn.RemoteAddr().String(), cfg, closer)

	write := func(f frame.Frame) error {
		msgType := websocket.BinaryMessage
		if f.Tag == frame.TagMeta {
			msgType = websocket.TextMessage
		}
		if err := conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(msgType, f.Payload)
	}

	read := func() ([]byte, error) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		return reframe(msgType, data), nil
	}

	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsPingDeadline))
	}

	s.start(write, read, ping, wsPingPeriod)
	return s
}

// reframe turns one WebSocket message into wire frame bytes
func reframe(msgType int, data []byte) []byte {
	switch msgType {
	case websocket.TextMessage:
		return frame.Encode(frame.TagMeta, data)
	case websocket.BinaryMessage:
		return frame.Encode(frame.TagData, data)
	default:
		return nil
	}
}
