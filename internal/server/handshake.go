// ABOUTME: Connect handshake shared by the WebSocket and optional TCP paths
// ABOUTME: Client sends {"message":"connect"}; server answers with its id, channel and version
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
)

// DefaultHandshakeTimeout bounds the wait for the connect message
const DefaultHandshakeTimeout = 10 * time.Second

// ErrHandshake is returned when a client does not complete the connect exchange
var ErrHandshake = errors.New("server: handshake failed")

// checkConnect validates a META payload as the connect request
func checkConnect(payload []byte) error {
	ctrl, err := protocol.ParseControl(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if ctrl.Message != protocol.MessageConnect {
		return fmt.Errorf("%w: expected %q, got %q", ErrHandshake, protocol.MessageConnect, ctrl.Message)
	}
	return nil
}

// connectedReply builds the handshake reply payload
func connectedReply(id registry.ID) ([]byte, error) {
	payload, err := json.Marshal(protocol.Connected(string(id), protocol.DefaultChannel))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connected reply: %w", err)
	}
	return payload, nil
}

// readTCPHandshake reads frames until the connect META arrives. DATA frames
// sent early are ignored. It returns whatever followed the connect frame.
func readTCPHandshake(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf []byte
	chunk := make([]byte, tcpReadSize)
	for {
		for {
			outcome, f := frame.DecodeNext(&buf)
			if outcome == frame.NeedMoreData {
				break
			}
			if outcome == frame.CorruptPayload {
				return nil, fmt.Errorf("%w: corrupt META", ErrHandshake)
			}
			if f.Tag != frame.TagMeta {
				continue
			}
			if err := checkConnect(f.Payload); err != nil {
				return nil, err
			}
			return buf, nil
		}

		if len(buf) > frame.HeaderSize+frame.MaxPayload {
			return nil, fmt.Errorf("%w: no connect frame in %d bytes", ErrHandshake, len(buf))
		}

		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}
}

// writeTCPReply sends the connected META directly on the socket
func writeTCPReply(conn net.Conn, id registry.ID, timeout time.Duration) error {
	payload, err := connectedReply(id)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = conn.Write(frame.Encode(frame.TagMeta, payload))
	return err
}

// readWSHandshake waits for the connect text message
func readWSHandshake(conn *websocket.Conn, timeout time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if msgType != websocket.TextMessage {
		return fmt.Errorf("%w: expected text message, got type %d", ErrHandshake, msgType)
	}
	return checkConnect(data)
}

// writeWSReply sends the connected META as a text message
func writeWSReply(conn *websocket.Conn, id registry.ID, timeout time.Duration) error {
	payload, err := connectedReply(id)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
