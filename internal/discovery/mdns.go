// ABOUTME: mDNS service discovery for jackstream servers
// ABOUTME: Servers advertise their TCP and WebSocket endpoints; listeners browse for them
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD type jackstream servers register under
const ServiceType = "_jackstream._tcp"

// ErrNotFound is returned when no server answered within the timeout
var ErrNotFound = errors.New("discovery: no jackstream server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int // raw TCP port
	WSPort      int // zero when WebSocket is disabled
	WSPath      string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name    string
	Host    string
	Port    int
	WSPort  int
	WSPath  string
	Version string
}

// TCPAddr returns host:port for the raw TCP endpoint
func (s *ServerInfo) TCPAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WSURL returns the WebSocket endpoint, or "" if the server has none
func (s *ServerInfo) WSURL() string {
	if s.WSPort == 0 {
		return ""
	}
	return "ws://" + net.JoinHostPort(s.Host, strconv.Itoa(s.WSPort)) + s.WSPath
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// txtRecords encodes the endpoint details advertised alongside the service
func (c Config) txtRecords() []string {
	txt := []string{"version=" + protocol.Version}
	if c.WSPort != 0 {
		txt = append(txt, "wsport="+strconv.Itoa(c.WSPort), "ws="+c.WSPath)
	}
	return txt
}

// Advertise announces the server until Stop is called
func (m *Manager) Advertise() error {
	ips, err := LocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.config.txtRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"name": m.config.ServiceName,
		"port": m.config.Port,
		"type": ServiceType,
	}).Info("Advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for servers until Stop is called. Results arrive on Servers.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				server := serverFromEntry(entry)
				logrus.WithFields(logrus.Fields{
					"name": server.Name,
					"addr": server.TCPAddr(),
				}).Info("Discovered server")

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = 3 * time.Second
		params.Entries = entries
		params.DisableIPv6 = true

		if err := mdns.Query(params); err != nil {
			logrus.WithError(err).Debug("mDNS query failed")
		}
		close(entries)
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Find browses until the first server answers or timeout elapses
func (m *Manager) Find(ctx context.Context, timeout time.Duration) (*ServerInfo, error) {
	m.Browse()
	defer m.Stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case server := <-m.servers:
		return server, nil
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

func serverFromEntry(entry *mdns.ServiceEntry) *ServerInfo {
	server := &ServerInfo{
		Name: entry.Name,
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	applyTXT(server, entry.InfoFields)
	return server
}

// applyTXT fills optional fields from key=value TXT strings
func applyTXT(server *ServerInfo, fields []string) {
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "wsport":
			if port, err := strconv.Atoi(value); err == nil {
				server.WSPort = port
			}
		case "ws":
			server.WSPath = value
		case "version":
			server.Version = value
		}
	}
}

// LocalIPs returns the non-loopback IPv4 addresses of interfaces that are up
func LocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

// PrimaryIP returns the address other hosts should dial, falling back to loopback
func PrimaryIP() net.IP {
	ips, err := LocalIPs()
	if err != nil || len(ips) == 0 {
		return net.IPv4(127, 0, 0, 1)
	}
	return ips[0]
}
