// ABOUTME: TCP acceptor that registers raw socket clients with the registry
// ABOUTME: Runs a blocking accept loop that stops when its listener is closed
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/sirupsen/logrus"
)

// Acceptor admits new connections into the registry
type Acceptor interface {
	// Serve blocks until the acceptor is closed or ctx is done
	Serve(ctx context.Context) error
	Close() error
	Addr() net.Addr
}

// TCPConfig configures the TCP acceptor
type TCPConfig struct {
	Addr string

	// RequireHandshake makes TCP clients send the connect message first,
	// as WebSocket clients must
	RequireHandshake bool
	HandshakeTimeout time.Duration

	Transport TransportConfig
}

// TCPAcceptor accepts raw TCP clients
type TCPAcceptor struct {
	config   TCPConfig
	listener net.Listener
	registry *registry.Registry

	closeOnce sync.Once
	wg        sync.WaitGroup

	// pending holds connections still in the handshake
	mu      sync.Mutex
	pending map[net.Conn]struct{}
	closed  bool
}

// NewTCPAcceptor binds the listening socket
func NewTCPAcceptor(config TCPConfig, reg *registry.Registry) (*TCPAcceptor, error) {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	config.Transport = config.Transport.withDefaults()

	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return nil, err
	}

	return &TCPAcceptor{
		config:   config,
		listener: ln,
		registry: reg,
		pending:  make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address
func (a *TCPAcceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve runs the accept loop
func (a *TCPAcceptor) Serve(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"addr":      a.Addr().String(),
		"handshake": a.config.RequireHandshake,
	}).Info("TCP acceptor listening")

	stop := context.AfterFunc(ctx, func() { a.Close() })
	defer stop()
	defer a.wg.Wait()

	var backoff time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logrus.Info("TCP acceptor stopped")
				return nil
			}

			// Resource exhaustion and the like; retry with backoff
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			logrus.WithError(err).Warnf("Accept failed, retrying in %v", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		logrus.WithField("addr", conn.RemoteAddr().String()).Info("Accepted TCP connection")

		if !a.config.RequireHandshake {
			t := newTCPTransport(conn, a.config.Transport, nil)
			if _, err := a.registry.Register(t, protocol.DefaultChannel); err != nil {
				logrus.WithError(err).Info("Refusing TCP client")
				t.Close()
			}
			continue
		}

		if !a.track(conn) {
			conn.Close()
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handshake(conn)
		}()
	}
}

// track records a connection entering the handshake. It reports false once
// the acceptor is closed.
func (a *TCPAcceptor) track(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.pending[conn] = struct{}{}
	return true
}

func (a *TCPAcceptor) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.pending, conn)
	a.mu.Unlock()
}

func (a *TCPAcceptor) handshake(conn net.Conn) {
	log := logrus.WithField("addr", conn.RemoteAddr().String())

	leftover, err := readTCPHandshake(conn, a.config.HandshakeTimeout)
	if err != nil {
		a.untrack(conn)
		log.WithError(err).Warn("Rejecting TCP client")
		conn.Close()
		return
	}

	id := registry.NewID()
	err = writeTCPReply(conn, id, a.config.Transport.WriteTimeout)
	a.untrack(conn)
	if err != nil {
		log.WithError(err).Warn("Failed to send connected reply")
		conn.Close()
		return
	}

	t := newTCPTransport(conn, a.config.Transport, leftover)
	if err := a.registry.RegisterID(id, t, protocol.DefaultChannel); err != nil {
		log.WithError(err).Warn("Failed to register client")
		t.Close()
	}
}

// Close stops the accept loop and aborts handshakes in progress.
// Registered clients are unaffected.
func (a *TCPAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.listener.Close()

		a.mu.Lock()
		a.closed = true
		for conn := range a.pending {
			conn.Close()
		}
		a.mu.Unlock()
	})
	return err
}
