// ABOUTME: In-memory Transport for tests of registry consumers
// ABOUTME: Records sent frames and replays scripted inbound bytes
package registrytest

import (
	"errors"
	"sync"

	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/registry"
)

// ErrInjected is the failure returned when a Transport is set to fail
var ErrInjected = errors.New("registrytest: injected failure")

// Transport is a registry.Transport backed by memory
type Transport struct {
	mu       sync.Mutex
	addr     string
	kind     string
	sent     []frame.Frame
	inbound  []byte
	failSend bool
	failRecv bool
	block    bool
	closed   bool
	closes   int
}

// NewTransport creates a fake transport
func NewTransport(addr string) *Transport {
	return &Transport{addr: addr, kind: "fake"}
}

// Send records the frame
func (t *Transport) Send(tag frame.Tag, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return registry.ErrClosed
	case t.failSend:
		return ErrInjected
	case t.block:
		return registry.ErrWouldBlock
	}
	t.sent = append(t.sent, frame.Frame{Tag: tag, Payload: append([]byte(nil), payload...)})
	return nil
}

// Receive drains scripted inbound bytes
func (t *Transport) Receive(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed:
		return 0, registry.ErrClosed
	case t.failRecv:
		return 0, ErrInjected
	case len(t.inbound) == 0:
		return 0, registry.ErrWouldBlock
	}
	n := copy(p, t.inbound)
	t.inbound = t.inbound[n:]
	return n, nil
}

// Close marks the transport closed and counts calls
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closes++
	return nil
}

func (t *Transport) RemoteAddr() string { return t.addr }

func (t *Transport) Kind() string { return t.kind }

// Inject queues bytes for Receive
func (t *Transport) Inject(b []byte) {
	t.mu.Lock()
	t.inbound = append(t.inbound, b...)
	t.mu.Unlock()
}

// FailSend makes Send return an error
func (t *Transport) FailSend() {
	t.mu.Lock()
	t.failSend = true
	t.mu.Unlock()
}

// FailReceive makes Receive return an error
func (t *Transport) FailReceive() {
	t.mu.Lock()
	t.failRecv = true
	t.mu.Unlock()
}

// Block makes Send report ErrWouldBlock
func (t *Transport) Block(block bool) {
	t.mu.Lock()
	t.block = block
	t.mu.Unlock()
}

// Sent returns a copy of every recorded frame
func (t *Transport) Sent() []frame.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frame.Frame(nil), t.sent...)
}

// SentTag returns recorded frames with the given tag
func (t *Transport) SentTag(tag frame.Tag) []frame.Frame {
	var out []frame.Frame
	for _, f := range t.Sent() {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Closes returns how many times Close was called
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}
