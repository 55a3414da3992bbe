// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers TXT record encoding and endpoint formatting
package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Talk", Port: 8080})
	require.NotNil(t, mgr)
	mgr.Stop()
}

func TestTXTRoundTrip(t *testing.T) {
	cfg := Config{ServiceName: "studio", Port: 8080, WSPort: 8081, WSPath: "/stream"}

	server := &ServerInfo{Host: "192.168.1.20", Port: 8080}
	applyTXT(server, cfg.txtRecords())

	assert.Equal(t, 8081, server.WSPort)
	assert.Equal(t, "/stream", server.WSPath)
	assert.Equal(t, "0.01", server.Version)
	assert.Equal(t, "192.168.1.20:8080", server.TCPAddr())
	assert.Equal(t, "ws://192.168.1.20:8081/stream", server.WSURL())
}

func TestTXTWithoutWebSocket(t *testing.T) {
	server := &ServerInfo{Host: "10.0.0.1", Port: 9000}
	applyTXT(server, Config{Port: 9000}.txtRecords())
	applyTXT(server, []string{"garbage", "wsport=nope"})

	assert.Zero(t, server.WSPort)
	assert.Empty(t, server.WSURL())
}

func TestPrimaryIP(t *testing.T) {
	ip := PrimaryIP()
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
	assert.False(t, ip.Equal(net.IPv4zero))
}
