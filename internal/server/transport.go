// ABOUTME: Queue-backed transport core shared by the TCP and WebSocket transports
// ABOUTME: A writer goroutine drains whole frames; a reader goroutine buffers inbound bytes
package server

import (
	"io"
	"sync"
	"time"

	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSendBuffer is the number of frames queued per client before drops
	DefaultSendBuffer = 256

	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 10 * time.Second

	recvBuffer = 32
)

// TransportConfig tunes per-connection queues
type TransportConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// streamConn implements registry.Transport over a pair of goroutines. The
// concrete transport supplies how to write one frame, how to read one chunk
// and how to close the socket.
type streamConn struct {
	kind string
	addr string

	sendChan chan frame.Frame
	recvChan chan []byte
	pending  []byte

	done      chan struct{}
	closeOnce sync.Once
	closer    func() error

	errMu sync.Mutex
	err   error
}

func newStreamConn(kind, addr string, cfg TransportConfig, closer func() error) *streamConn {
	return &streamConn{
		kind:     kind,
		addr:     addr,
		sendChan: make(chan frame.Frame, cfg.SendBuffer),
		recvChan: make(chan []byte, recvBuffer),
		done:     make(chan struct{}),
		closer:   closer,
	}
}

// start launches the reader and writer. ping may be nil.
func (s *streamConn) start(write func(frame.Frame) error, read func() ([]byte, error), ping func() error, pingEvery time.Duration) {
	go s.writeLoop(write, ping, pingEvery)
	go s.readLoop(read)
}

// prime queues bytes that arrived before the transport started
func (s *streamConn) prime(b []byte) {
	if len(b) > 0 {
		s.pending = append(s.pending, b...)
	}
}

func (s *streamConn) Send(tag frame.Tag, payload []byte) error {
	if err := s.failure(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return registry.ErrClosed
	default:
	}

	select {
	case s.sendChan <- frame.Frame{Tag: tag, Payload: payload}:
		return nil
	default:
		return registry.ErrWouldBlock
	}
}

// Receive is only called from the fan-out goroutine
func (s *streamConn) Receive(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.recvChan:
			if !ok {
				if err := s.failure(); err != nil {
					return 0, err
				}
				return 0, io.EOF
			}
			s.pending = chunk
		default:
			return 0, registry.ErrWouldBlock
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *streamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.closer()
	})
	return err
}

func (s *streamConn) RemoteAddr() string {
	return s.addr
}

func (s *streamConn) Kind() string {
	return s.kind
}

func (s *streamConn) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamConn) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *streamConn) writeLoop(write func(frame.Frame) error, ping func() error, pingEvery time.Duration) {
	var pingC <-chan time.Time
	if ping != nil && pingEvery > 0 {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case f := <-s.sendChan:
			if err := write(f); err != nil {
				s.writeFailed(err)
				return
			}
		case <-pingC:
			if err := ping(); err != nil {
				s.writeFailed(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *streamConn) writeFailed(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	logrus.WithFields(logrus.Fields{
		"addr":      s.addr,
		"transport": s.kind,
	}).WithError(err).Debug("Write failed")
	s.fail(err)
	// Unblocks the reader; the fan-out loop deregisters on the next Send or Receive.
	_ = s.closer()
}

func (s *streamConn) readLoop(read func() ([]byte, error)) {
	defer close(s.recvChan)

	for {
		chunk, err := read()
		if len(chunk) > 0 {
			select {
			case s.recvChan <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				if err != io.EOF {
					s.fail(err)
				}
			}
			return
		}
	}
}
