// ABOUTME: Raw TCP transport carrying jackstream frames byte-for-byte
// ABOUTME: Writes header and payload together so frames never interleave
package server

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/jackstream/jackstream-go/internal/frame"
)

const tcpReadSize = 1024

// newTCPTransport wraps an accepted connection. leftover holds bytes read
// before the transport took over, such as the tail of a handshake read.
func newTCPTransport(conn net.Conn, cfg TransportConfig, leftover []byte) *streamConn {
	cfg = cfg.withDefaults()
	s := newStreamConn("tcp", conn.RemoteAddr().String(), cfg, conn.Close)
	s.prime(leftover)

	write := func(f frame.Frame) error {
		var header [frame.HeaderSize]byte
		copy(header[:], f.Tag[:])
		binary.LittleEndian.PutUint32(header[frame.TagSize:], uint32(int32(len(f.Payload))))

		if err := conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return err
		}
		bufs := net.Buffers{header[:], f.Payload}
		_, err := bufs.WriteTo(conn)
		return err
	}

	read := func() ([]byte, error) {
		buf := make([]byte, tcpReadSize)
		n, err := conn.Read(buf)
		return buf[:n], err
	}

	s.start(write, read, nil, 0)
	return s
}
