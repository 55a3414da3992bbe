// ABOUTME: Registry of connected stream clients
// ABOUTME: Tracks each client's transport, decode buffer and selected channel
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrWouldBlock means the operation could not proceed right now. For Send
	// the frame was dropped; for Receive nothing was available. Not a failure.
	ErrWouldBlock = errors.New("registry: operation would block")

	// ErrClosed is returned by transports after Close
	ErrClosed = errors.New("registry: transport closed")

	// ErrDuplicateID is returned by RegisterID for an ID already present
	ErrDuplicateID = errors.New("registry: duplicate client id")

	// ErrRegistryClosed is returned by registration after CloseAll
	ErrRegistryClosed = errors.New("registry: closed to new clients")
)

// Transport is the byte-stream abstraction a client is served over.
// Send and Close may be called from different goroutines.
type Transport interface {
	// Send delivers one frame, best effort
	Send(tag frame.Tag, payload []byte) error
	// Receive copies available inbound bytes into p without blocking
	Receive(p []byte) (int, error)
	Close() error
	RemoteAddr() string
	// Kind names the transport ("tcp", "websocket")
	Kind() string
}

// ID identifies a registered client
type ID string

// NewID returns a fresh client ID
func NewID() ID {
	return ID(uuid.New().String())
}

// Client is one connected consumer. The decoder and channel are touched only
// by the fan-out loop; the channel is atomic so status readers can see it.
type Client struct {
	ID          ID
	Addr        string
	Kind        string
	ConnectedAt time.Time

	transport Transport
	decoder   *frame.Decoder
	channel   atomic.Int64
	alive     atomic.Bool
	closeOnce sync.Once
}

// Transport returns the client's transport
func (c *Client) Transport() Transport {
	return c.transport
}

// Decoder returns the client's inbound decode buffer
func (c *Client) Decoder() *frame.Decoder {
	return c.decoder
}

// Channel returns the selected channel
func (c *Client) Channel() protocol.Channel {
	return protocol.Channel(c.channel.Load())
}

// Alive reports whether the client is still registered
func (c *Client) Alive() bool {
	return c.alive.Load()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		if err := c.transport.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"client": c.ID,
				"addr":   c.Addr,
			}).WithError(err).Debug("Error closing client transport")
		}
	})
}

// Info is a read-only view of a client
type Info struct {
	ID          ID
	Addr        string
	Kind        string
	Channel     protocol.Channel
	ConnectedAt time.Time
}

// Registry owns the set of connected clients. Structural changes hold the
// lock only for the slice/map update, never across I/O.
type Registry struct {
	mu      sync.RWMutex
	clients map[ID]*Client
	order   []*Client
	closed  bool

	onChange func()
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		clients: make(map[ID]*Client),
	}
}

// SetOnChange installs a callback fired after every register/deregister
func (r *Registry) SetOnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a transport under a fresh ID
func (r *Registry) Register(t Transport, ch protocol.Channel) (ID, error) {
	for {
		id := NewID()
		err := r.RegisterID(id, t, ch)
		if !errors.Is(err, ErrDuplicateID) {
			return id, err
		}
	}
}

// RegisterID adds a transport under a caller-chosen ID. After CloseAll it
// fails with ErrRegistryClosed and the caller still owns t.
func (r *Registry) RegisterID(id ID, t Transport, ch protocol.Channel) error {
	c := &Client{
		ID:          id,
		Addr:        t.RemoteAddr(),
		Kind:        t.Kind(),
		ConnectedAt: time.Now(),
		transport:   t,
		decoder:     frame.NewDecoder(),
	}
	c.channel.Store(int64(ch))
	c.alive.Store(true)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.clients[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.clients[id] = c
	r.order = append(r.order, c)
	total := len(r.order)
	onChange := r.onChange
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"client":    id,
		"addr":      c.Addr,
		"transport": c.Kind,
		"channel":   ch.Wire(),
		"clients":   total,
	}).Info("Client registered")

	if onChange != nil {
		onChange()
	}
	return nil
}

// Deregister removes a client and closes its transport. Safe to call more than once.
func (r *Registry) Deregister(id ID) bool {
	r.mu.Lock()
	c, exists := r.clients[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, id)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	total := len(r.order)
	onChange := r.onChange
	r.mu.Unlock()

	c.close()

	logrus.WithFields(logrus.Fields{
		"client":  id,
		"addr":    c.Addr,
		"clients": total,
	}).Info("Client deregistered")

	if onChange != nil {
		onChange()
	}
	return true
}

// ForEach calls fn for every client in registration order. It iterates a
// snapshot, so fn may deregister any client; clients deregistered earlier in
// the same pass are skipped.
func (r *Registry) ForEach(fn func(c *Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	for _, c := range snapshot {
		if !c.Alive() {
			continue
		}
		fn(c)
	}
}

// Get looks up a client
func (r *Registry) Get(id ID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// SetChannel changes a client's channel. No range check: an out-of-range
// channel means the client gets no DATA until it selects a valid one.
func (r *Registry) SetChannel(id ID, ch protocol.Channel) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	c.channel.Store(int64(ch))
	return true
}

// Channel returns a client's selected channel
func (r *Registry) Channel(id ID) (protocol.Channel, bool) {
	c, ok := r.Get(id)
	if !ok {
		return 0, false
	}
	return c.Channel(), true
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns a view of every client
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, c := range r.order {
		infos = append(infos, Info{
			ID:          c.ID,
			Addr:        c.Addr,
			Kind:        c.Kind,
			Channel:     c.Channel(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	return infos
}

// CloseAll deregisters every client and refuses any later registration
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.ForEach(func(c *Client) {
		r.Deregister(c.ID)
	})
}
