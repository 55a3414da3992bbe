// ABOUTME: Tests for the server TUI model
// ABOUTME: Checks the status view and quit handling without a terminal
package server

import (
	"math"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestViewShowsClientsAndClips(t *testing.T) {
	m := tuiModel{quitChan: make(chan struct{}, 1)}
	updated, _ := m.Update(statusMsg(ServerStatus{
		Name:   "studio",
		Listen: "192.168.1.2:8080",
		Format: protocol.Float32Format(2, 48000),
		Clients: []ClientInfo{
			{Addr: "10.0.0.5:5000", Transport: "websocket", Channel: 2},
		},
		Stats: &protocol.Stats{
			RMS:   protocol.Levels([]float64{0.5, math.NaN()}),
			Clips: []int{3, 0},
		},
	}))

	view := updated.View()
	assert.Contains(t, view, "studio")
	assert.Contains(t, view, "Connected Clients (1)")
	assert.Contains(t, view, "10.0.0.5:5000")
	assert.Contains(t, view, "ch 2")
	assert.Contains(t, view, "CLIP 3")
	assert.Contains(t, view, "--- dB")
}

func TestQuitKeySignalsServer(t *testing.T) {
	quit := make(chan struct{}, 1)
	m := tuiModel{quitChan: quit}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	assert.NotNil(t, cmd)
	assert.Equal(t, "Shutting down server...\n", updated.View())
	select {
	case <-quit:
	default:
		t.Fatal("quit not signalled")
	}
}
