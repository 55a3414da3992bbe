// ABOUTME: TUI update helpers for server
// ABOUTME: Builds status snapshots from the registry and fan-out counters
package server

import (
	"net"
	"time"
)

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}

func (s *Server) status() ServerStatus {
	now := time.Now()

	infos := s.registry.Snapshot()
	clients := make([]ClientInfo, 0, len(infos))
	for _, info := range infos {
		clients = append(clients, ClientInfo{
			ID:        string(info.ID),
			Addr:      info.Addr,
			Transport: info.Kind,
			Channel:   info.Channel.Wire(),
			Connected: now.Sub(info.ConnectedAt),
		})
	}

	title := "Unknown source"
	if t, ok := s.producer.(interface{ Title() string }); ok {
		title = t.Title()
	}

	listen := ""
	if s.tcp != nil {
		listen = "tcp " + s.tcp.Addr().String()
		if s.ws != nil {
			listen += ", ws " + s.ws.Addr().String() + s.config.WSPath
		}
	}

	status := ServerStatus{
		Name:        s.config.Name,
		Listen:      listen,
		SourceTitle: title,
		Format:      s.producer.Format(),
		Clients:     clients,
		Counters:    s.pipeline.Counters(),
		QueueDrops:  s.queue.Dropped(),
	}
	if latest, ok := s.pipeline.LatestStats(); ok {
		status.Stats = &latest
	}
	return status
}

// portOf extracts the port from a bound address
func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
