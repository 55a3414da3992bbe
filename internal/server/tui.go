// ABOUTME: Server TUI showing connected clients and live channel meters
// ABOUTME: Real-time status display using bubbletea and lipgloss
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/ui"
)

const meterWidth = 30

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	done     chan struct{}
	stopOnce sync.Once
	quitChan chan struct{} // Signal to stop the server
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name        string
	Listen      string
	SourceTitle string
	Format      protocol.Format
	Clients     []ClientInfo
	Stats       *protocol.Stats
	Counters    Counters
	QueueDrops  uint64
}

// ClientInfo holds client information for display
type ClientInfo struct {
	ID        string
	Addr      string
	Transport string
	Channel   int // wire numbering
	Connected time.Duration
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	clientHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	meterStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	clipStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("jackstream talk"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Server", m.status.Name)
	field("Listening", m.status.Listen)
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	field("Source", m.status.SourceTitle)
	field("Format", fmt.Sprintf("%d ch, %d Hz, float32", m.status.Format.ChannelCount, m.status.Format.SampleRate))
	c := m.status.Counters
	field("Frames", fmt.Sprintf("%d ticks, %d sent, %d dropped, %d queue drops", c.Ticks, c.DataSent, c.DataDropped, m.status.QueueDrops))
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render("Channels"))
	b.WriteString("\n\n")
	if m.status.Stats == nil {
		b.WriteString(valueStyle.Render("  Waiting for first stats window"))
		b.WriteString("\n")
	} else {
		for ch, level := range m.status.Stats.RMS {
			clips := 0
			if ch < len(m.status.Stats.Clips) {
				clips = m.status.Stats.Clips[ch]
			}
			b.WriteString(fmt.Sprintf("  %2d ", ch+1))
			b.WriteString(meterStyle.Render(ui.MeterBar(float64(level), meterWidth)))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" %s", ui.FormatDB(float64(level)))))
			if clips > 0 {
				b.WriteString(clipStyle.Render(fmt.Sprintf(" CLIP %d", clips)))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		for _, client := range m.status.Clients {
			b.WriteString(fmt.Sprintf("  • %s", client.Addr))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, ch %d, %s)",
				client.Transport, client.Channel, client.Connected.Round(time.Second))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI showing initial until updates arrive
func NewServerTUI(initial ServerStatus) *ServerTUI {
	t := &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		done:     make(chan struct{}),
		quitChan: make(chan struct{}, 1),
	}
	t.program = tea.NewProgram(tuiModel{
		status:    initial,
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}, tea.WithAltScreen())
	return t
}

// Start runs the TUI until Stop or the user quits
func (t *ServerTUI) Start() error {
	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	case <-t.done:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.program.Quit()
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
