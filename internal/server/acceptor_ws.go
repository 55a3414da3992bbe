// ABOUTME: WebSocket acceptor serving the jackstream stream over HTTP upgrade
// ABOUTME: Performs the connect handshake before registering each client
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/sirupsen/logrus"
)

// DefaultWSPath is where the stream endpoint is mounted
const DefaultWSPath = "/stream"

// WSConfig configures the WebSocket acceptor
type WSConfig struct {
	Addr             string
	Path             string
	HandshakeTimeout time.Duration

	// AllowedOrigins lists browser origins accepted besides localhost.
	// Empty accepts any origin.
	AllowedOrigins []string

	Transport TransportConfig
}

// WSAcceptor accepts WebSocket clients
type WSAcceptor struct {
	config     WSConfig
	listener   net.Listener
	registry   *registry.Registry
	upgrader   websocket.Upgrader
	httpServer *http.Server

	closeOnce sync.Once

	// pending holds upgraded connections still in the handshake. Shutdown
	// does not track hijacked connections, so Close aborts these itself.
	mu      sync.Mutex
	pending map[*websocket.Conn]struct{}
	closed  bool
}

// NewWSAcceptor binds the HTTP listener and mounts the stream endpoint
func NewWSAcceptor(config WSConfig, reg *registry.Registry) (*WSAcceptor, error) {
	if config.Path == "" {
		config.Path = DefaultWSPath
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	config.Transport = config.Transport.withDefaults()

	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return nil, err
	}

	a := &WSAcceptor{
		config:   config,
		listener: ln,
		registry: reg,
		pending:  make(map[*websocket.Conn]struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, a.handleWebSocket)
	a.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: config.HandshakeTimeout,
	}
	return a, nil
}

// Addr returns the bound address
func (a *WSAcceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve runs the HTTP server until closed
func (a *WSAcceptor) Serve(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"addr": a.Addr().String(),
		"path": a.config.Path,
	}).Info("WebSocket acceptor listening")

	stop := context.AfterFunc(ctx, func() { a.Close() })
	defer stop()

	if err := a.httpServer.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logrus.Info("WebSocket acceptor stopped")
	return nil
}

// Close stops accepting. Upgraded connections belong to the registry.
func (a *WSAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.httpServer.Shutdown(ctx)

		a.mu.Lock()
		a.closed = true
		for conn := range a.pending {
			conn.Close()
		}
		a.mu.Unlock()
	})
	return err
}

func (a *WSAcceptor) track(conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.pending[conn] = struct{}{}
	return true
}

func (a *WSAcceptor) untrack(conn *websocket.Conn) {
	a.mu.Lock()
	delete(a.pending, conn)
	a.mu.Unlock()
}

func (a *WSAcceptor) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients
		return true
	}
	if origin == "http://localhost" || origin == "http://127.0.0.1" {
		return true
	}
	if len(a.config.AllowedOrigins) == 0 {
		logrus.WithField("origin", origin).Warn("Accepting WebSocket from foreign origin")
		return true
	}
	for _, allowed := range a.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	logrus.WithField("origin", origin).Warn("Rejecting WebSocket origin")
	return false
}

func (a *WSAcceptor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(frame.MaxPayload)

	log := logrus.WithField("addr", r.RemoteAddr)
	if !a.track(conn) {
		log.Info("Acceptor closed, dropping WebSocket connection")
		conn.Close()
		return
	}
	log.Info("New WebSocket connection, waiting for connect")

	if err := readWSHandshake(conn, a.config.HandshakeTimeout); err != nil {
		a.untrack(conn)
		log.WithError(err).Warn("Rejecting WebSocket client")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected connect"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	id := registry.NewID()
	err = writeWSReply(conn, id, a.config.Transport.WriteTimeout)
	a.untrack(conn)
	if err != nil {
		log.WithError(err).Warn("Failed to send connected reply")
		conn.Close()
		return
	}

	t := newWSTransport(conn, a.config.Transport)
	if err := a.registry.RegisterID(id, t, protocol.DefaultChannel); err != nil {
		log.WithError(err).Warn("Failed to register client")
		t.Close()
	}
}
