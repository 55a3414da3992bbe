// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels carrying user input out
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg carries a volume or mute change from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg signals the user asked to quit
type QuitMsg struct{}

// Controls holds channels for user input leaving the TUI
type Controls struct {
	Changes  chan VolumeChangeMsg
	Channels chan int
	Quit     chan QuitMsg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Changes:  make(chan VolumeChangeMsg, 10),
		Channels: make(chan int, 10),
		Quit:     make(chan QuitMsg, 1),
	}
}

// The send helpers never block the UI and tolerate a nil receiver.

func (c *Controls) volume(v int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- VolumeChangeMsg{Volume: v, Muted: muted}:
	default:
	}
}

func (c *Controls) selectChannel(n int) {
	if c == nil {
		return
	}
	select {
	case c.Channels <- n:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		volume:   100,
		channel:  1,
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
