// ABOUTME: jackstream talk server wiring producer, fan-out loop and acceptors
// ABOUTME: Runs every long-lived goroutine under one errgroup and shuts down together
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackstream/jackstream-go/internal/discovery"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/jackstream/jackstream-go/internal/source"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds server configuration
type Config struct {
	Name string

	// TCPAddr is the raw TCP listen address
	TCPAddr string
	// WSAddr is the WebSocket listen address; empty disables WebSocket
	WSAddr string
	WSPath string

	RequireHandshake bool
	HandshakeTimeout time.Duration
	AllowedOrigins   []string

	SendBuffer    int
	WriteTimeout  time.Duration
	QueueDepth    int
	StatsInterval time.Duration

	EnableMDNS bool
	UseTUI     bool
}

// Server is the jackstream talk server
type Server struct {
	config   Config
	producer source.Producer

	registry *registry.Registry
	queue    *Queue
	pipeline *Pipeline

	tcp *TCPAcceptor
	ws  *WSAcceptor

	mdnsManager *discovery.Manager
	tui         *ServerTUI

	listenOnce sync.Once
	listenErr  error

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a server streaming producer's ticks
func New(config Config, producer source.Producer) *Server {
	if config.WSPath == "" {
		config.WSPath = DefaultWSPath
	}

	reg := registry.New()
	q := NewQueue(config.QueueDepth)

	s := &Server{
		config:   config,
		producer: producer,
		registry: reg,
		queue:    q,
		stopChan: make(chan struct{}),
	}

	s.pipeline = NewPipeline(PipelineConfig{
		Format:        producer.Format(),
		StatsInterval: config.StatsInterval,
		OnStats:       func(protocol.Stats) { s.updateTUI() },
	}, q, reg)
	reg.SetOnChange(s.updateTUI)

	return s
}

// Listen binds the acceptor sockets. Start calls it if needed; calling it
// first lets callers learn the bound addresses.
func (s *Server) Listen() error {
	s.listenOnce.Do(func() {
		transport := TransportConfig{
			SendBuffer:   s.config.SendBuffer,
			WriteTimeout: s.config.WriteTimeout,
		}

		tcp, err := NewTCPAcceptor(TCPConfig{
			Addr:             s.config.TCPAddr,
			RequireHandshake: s.config.RequireHandshake,
			HandshakeTimeout: s.config.HandshakeTimeout,
			Transport:        transport,
		}, s.registry)
		if err != nil {
			s.listenErr = fmt.Errorf("failed to listen on %s: %w", s.config.TCPAddr, err)
			return
		}
		s.tcp = tcp

		if s.config.WSAddr == "" {
			return
		}
		ws, err := NewWSAcceptor(WSConfig{
			Addr:             s.config.WSAddr,
			Path:             s.config.WSPath,
			HandshakeTimeout: s.config.HandshakeTimeout,
			AllowedOrigins:   s.config.AllowedOrigins,
			Transport:        transport,
		}, s.registry)
		if err != nil {
			tcp.Close()
			s.listenErr = fmt.Errorf("failed to listen on %s: %w", s.config.WSAddr, err)
			return
		}
		s.ws = ws
	})
	return s.listenErr
}

// TCPAddr returns the bound TCP address, or nil before Listen
func (s *Server) TCPAddr() net.Addr {
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// WSAddr returns the bound WebSocket address, or nil when disabled
func (s *Server) WSAddr() net.Addr {
	if s.ws == nil {
		return nil
	}
	return s.ws.Addr()
}

// Registry exposes the client registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Start runs the server until Stop, a TUI quit, or the producer ends
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	tcpPort := portOf(s.tcp.Addr())
	wsPort := 0
	if s.ws != nil {
		wsPort = portOf(s.ws.Addr())
	}

	format := s.producer.Format()
	logrus.WithFields(logrus.Fields{
		"name":       s.config.Name,
		"channels":   format.ChannelCount,
		"samplerate": format.SampleRate,
	}).Info("Server starting")
	logrus.Infof("Waiting for connections on %s:%d", discovery.PrimaryIP(), tcpPort)
	if s.ws != nil {
		logrus.Infof("WebSocket endpoint ws://%s:%d%s", discovery.PrimaryIP(), wsPort, s.config.WSPath)
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        tcpPort,
			WSPort:      wsPort,
			WSPath:      s.config.WSPath,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			logrus.WithError(err).Warn("Failed to start mDNS advertisement")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var tuiQuit <-chan struct{}
	if s.config.UseTUI {
		s.tui = NewServerTUI(s.status())
		tuiQuit = s.tui.QuitChan()
		go func() {
			if err := s.tui.Start(); err != nil {
				logrus.WithError(err).Error("TUI failed")
			}
		}()
	}

	g.Go(func() error {
		return Pump(gctx, s.producer, s.queue)
	})
	g.Go(func() error {
		// The loop ending means the producer ended; everything else follows.
		err := s.pipeline.Run(gctx)
		cancel()
		return err
	})
	g.Go(func() error {
		return s.tcp.Serve(gctx)
	})
	if s.ws != nil {
		g.Go(func() error {
			return s.ws.Serve(gctx)
		})
	}
	g.Go(func() error {
		select {
		case <-s.stopChan:
			logrus.Info("Server shutting down...")
		case <-tuiQuit:
			logrus.Info("TUI quit requested, shutting down...")
		case <-gctx.Done():
		}
		cancel()
		return nil
	})

	err := g.Wait()

	// The loop already closed every client and sealed the registry; this
	// covers a Run that returned early.
	s.registry.CloseAll()

	if s.tui != nil {
		s.tui.Stop()
	}
	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}
	if cerr := s.producer.Close(); cerr != nil {
		logrus.WithError(cerr).Warn("Error closing producer")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("Server stopped with error")
		return err
	}
	logrus.Info("Server stopped cleanly")
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}
