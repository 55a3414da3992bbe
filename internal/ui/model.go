// ABOUTME: Bubbletea model for the listener TUI
// ABOUTME: Shows the stream, per-channel meters and playback controls
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackstream/jackstream-go/internal/protocol"
)

const (
	boxWidth        = 54
	listenMeterSize = 24
	volumeStep      = 5
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	transport  string
	clientID   string

	// Stream
	format  protocol.Format
	channel int // wire numbering
	levels  []protocol.Level
	clips   []int

	// Playback
	playing bool
	volume  int
	muted   bool

	// Stats
	received int64
	records  int64

	showDebug bool

	width  int
	height int

	controls *Controls
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderMeters())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func line(content string) string {
	runes := []rune(content)
	if len(runes) > boxWidth {
		content = string(runes[:boxWidth])
	}
	return fmt.Sprintf("│ %s%s │\n", content, strings.Repeat(" ", boxWidth-len([]rune(content))))
}

func rule(left, right, label string) string {
	fill := boxWidth + 2 - len([]rune(label))
	return left + label + strings.Repeat("─", fill) + right + "\n"
}

// renderHeader renders connection status and stream format
func (m Model) renderHeader() string {
	var b strings.Builder
	b.WriteString(rule("┌", "┐", "─ jackstream listen "))

	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("Connected to %s (%s)", m.serverName, m.transport)
	}
	b.WriteString(line("Status: " + truncate(status, boxWidth-8)))

	if m.format.ChannelCount == 0 {
		b.WriteString(line("Format: waiting for stats"))
	} else {
		b.WriteString(line(fmt.Sprintf("Format: %d ch, %d Hz, %d-bit %s",
			m.format.ChannelCount, m.format.SampleRate, m.format.SampleSize, m.format.SampleType)))
	}
	b.WriteString(line(fmt.Sprintf("Listening to channel %d", m.channel)))
	b.WriteString(rule("├", "┤", ""))
	return b.String()
}

// renderMeters renders one level meter per channel
func (m Model) renderMeters() string {
	if len(m.levels) == 0 {
		return line("No levels yet")
	}

	var b strings.Builder
	for ch, level := range m.levels {
		marker := " "
		if ch+1 == m.channel {
			marker = ">"
		}
		row := fmt.Sprintf("%s%2d %s %s", marker, ch+1,
			MeterBar(float64(level), listenMeterSize), FormatDB(float64(level)))
		if ch < len(m.clips) && m.clips[ch] > 0 {
			row += fmt.Sprintf(" CLIP %d", m.clips[ch])
		}
		b.WriteString(line(row))
	}
	return b.String()
}

// renderControls renders volume and playback state
func (m Model) renderControls() string {
	if !m.playing {
		return line("") + line("Playback: off")
	}

	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}
	return line("") + line(fmt.Sprintf("Volume: [%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muteIcon))
}

// renderStats renders frame counters
func (m Model) renderStats() string {
	return rule("├", "┤", "") + line(fmt.Sprintf("Stats: DATA %d  META %d", m.received, m.records))
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return line("DEBUG:") +
		line("  Client ID: "+truncate(m.clientID, boxWidth-13)) +
		line(fmt.Sprintf("  Window: %dx%d", m.width, m.height))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return line("←/→:Channel  ↑/↓:Volume  m:Mute  d:Debug  q:Quit") + rule("└", "┘", "")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.controls.volume(m.volume, m.muted)
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.controls.volume(m.volume, m.muted)
	case "m":
		m.muted = !m.muted
		m.controls.volume(m.volume, m.muted)
	case "left":
		if m.channel > 1 {
			m.channel--
			m.controls.selectChannel(m.channel)
		}
	case "right":
		if m.format.ChannelCount == 0 || m.channel < m.format.ChannelCount {
			m.channel++
			m.controls.selectChannel(m.channel)
		}
	case "d":
		m.showDebug = !m.showDebug
	default:
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			n := int(key[0] - '0')
			if m.format.ChannelCount == 0 || n <= m.format.ChannelCount {
				m.channel = n
				m.controls.selectChannel(n)
			}
		}
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.ClientID != "" {
		m.clientID = msg.ClientID
	}
	if msg.Channel != 0 {
		m.channel = msg.Channel
	}
	if msg.Playing != nil {
		m.playing = *msg.Playing
	}
	if msg.Stats != nil {
		m.format = msg.Stats.Format
		m.levels = msg.Stats.RMS
		m.clips = msg.Stats.Clips
	}
	if msg.Received != 0 {
		m.received = msg.Received
	}
	if msg.Records != 0 {
		m.records = msg.Records
	}
}

// StatusMsg updates TUI state. Zero fields leave the current value alone.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Transport  string
	ClientID   string
	Channel    int
	Playing    *bool
	Stats      *protocol.Stats
	Received   int64
	Records    int64
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
