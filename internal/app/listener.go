// ABOUTME: Listener application orchestration
// ABOUTME: Coordinates discovery, the stream client, playback and the TUI
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackstream/jackstream-go/internal/client"
	"github.com/jackstream/jackstream-go/internal/config"
	"github.com/jackstream/jackstream-go/internal/discovery"
	"github.com/jackstream/jackstream-go/internal/player"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/ui"
	"github.com/sirupsen/logrus"
)

// Config holds listener configuration
type Config struct {
	config.Listen

	// StateDir remembers the last server; empty disables it
	StateDir string

	// Out receives one line per stats record when the TUI is off
	Out io.Writer
}

// Listener represents the listen application
type Listener struct {
	config   Config
	client   *client.Client
	output   *player.Output
	tuiProg  *tea.Program
	controls *ui.Controls
	server   string

	// playbackOff is set once output setup fails
	playbackOff bool

	received atomic.Int64
	records  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a listener
func New(cfg Config) *Listener {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	ctx, cancel := context.WithCancel(context.Background())

	l := &Listener{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Play {
		l.output = player.NewOutput()
		l.output.SetVolume(cfg.Volume)
	}
	return l
}

// Start connects and runs until Stop, the user quits, or the server closes
// the stream
func (l *Listener) Start() error {
	if l.config.TUI {
		l.controls = ui.NewControls()
		l.tuiProg = ui.Run(l.controls)
		go func() {
			if _, err := l.tuiProg.Run(); err != nil {
				logrus.WithError(err).Error("TUI error")
			}
		}()
	}

	if err := l.resolveServer(); err != nil {
		return err
	}

	l.client = client.NewClient(l.config.ClientConfig())
	if err := l.client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	l.server = l.config.ClientConfig().Addr
	l.rememberServer()

	connected := true
	l.updateTUI(ui.StatusMsg{
		Connected:  &connected,
		ServerName: l.server,
		Transport:  l.config.Transport,
		ClientID:   l.client.ID(),
		Channel:    l.client.Channel(),
		Playing:    &l.config.Play,
	})
	logrus.WithFields(logrus.Fields{
		"server":  l.server,
		"channel": l.client.Channel(),
	}).Info("Listening")

	return l.run()
}

// resolveServer fills in Host from discovery or the remembered server when
// none was given
func (l *Listener) resolveServer() error {
	if l.config.Host != "" {
		return nil
	}

	logrus.Info("Starting server discovery...")
	found, err := discovery.NewManager(discovery.Config{}).Find(l.ctx, l.config.DiscoverTimeout)
	if err == nil {
		l.config.Host = found.Host
		l.config.Port = found.Port
		if l.config.Transport == client.TransportWebSocket {
			if found.WSPort == 0 {
				return fmt.Errorf("server %s does not offer WebSocket", found.Name)
			}
			l.config.Port = found.WSPort
			l.config.WSPath = found.WSPath
		}
		logrus.WithField("server", found.Name).Info("Discovered server")
		return nil
	}

	last, lerr := l.lastServer()
	if lerr != nil || last.Host == "" {
		return fmt.Errorf("no server given and none discovered: %w", err)
	}
	logrus.WithField("host", last.Host).Info("Using last server")
	l.config.Host = last.Host
	if l.config.Port == 0 {
		l.config.Port = last.Port
	}
	return nil
}

func (l *Listener) lastServer() (config.LastServer, error) {
	if l.config.StateDir == "" {
		return config.LastServer{}, nil
	}
	return config.LoadLastServer(l.config.StateDir)
}

func (l *Listener) rememberServer() {
	if l.config.StateDir == "" {
		return
	}
	host, portStr, err := net.SplitHostPort(l.server)
	if err != nil {
		return
	}
	port, _ := strconv.Atoi(portStr)
	if err := config.SaveLastServer(l.config.StateDir, config.LastServer{Host: host, Port: port}); err != nil {
		logrus.WithError(err).Warn("Failed to remember server")
	}
}

// run routes samples, stats and user input until the session ends
func (l *Listener) run() error {
	var (
		changes  <-chan ui.VolumeChangeMsg
		channels <-chan int
		quit     <-chan ui.QuitMsg
	)
	if l.controls != nil {
		changes, channels, quit = l.controls.Changes, l.controls.Channels, l.controls.Quit
	}

	for {
		select {
		case samples := <-l.client.Samples:
			l.received.Add(1)
			l.play(samples)

		case st := <-l.client.Stats:
			l.records.Add(1)
			l.handleStats(st)

		case vol := <-changes:
			if l.output != nil {
				l.output.SetVolume(vol.Volume)
				l.output.SetMuted(vol.Muted)
			}

		case n := <-channels:
			if err := l.client.SelectChannel(n); err != nil {
				logrus.WithError(err).Warn("Channel change failed")
			}

		case <-quit:
			logrus.Info("Received quit signal from TUI")
			return nil

		case <-l.client.Done():
			disconnected := false
			l.updateTUI(ui.StatusMsg{Connected: &disconnected})
			if err := l.client.Err(); err != nil {
				return fmt.Errorf("stream ended: %w", err)
			}
			logrus.Info("Server closed the stream")
			return nil

		case <-l.ctx.Done():
			return nil
		}
	}
}

func (l *Listener) play(samples []float32) {
	if l.output == nil || l.playbackOff {
		return
	}
	f, ok := l.client.Format()
	if !ok {
		// rate unknown until the first stats record
		return
	}
	if err := l.output.Initialize(f.SampleRate); err != nil {
		logrus.WithError(err).Error("Failed to initialize output")
		l.playbackOff = true
		return
	}
	if err := l.output.Play(samples); err != nil && !errors.Is(err, player.ErrNotInitialized) {
		logrus.WithError(err).Warn("Playback error")
	}
}

func (l *Listener) handleStats(st protocol.Stats) {
	if l.tuiProg != nil {
		l.updateTUI(ui.StatusMsg{
			Stats:    &st,
			Channel:  l.client.Channel(),
			Received: l.received.Load(),
			Records:  l.records.Load(),
		})
		return
	}
	fmt.Fprintln(l.config.Out, FormatStats(st))
}

// FormatStats renders a stats record as one line
func FormatStats(st protocol.Stats) string {
	parts := make([]string, len(st.RMS))
	for ch, level := range st.RMS {
		clips := 0
		if ch < len(st.Clips) {
			clips = st.Clips[ch]
		}
		parts[ch] = fmt.Sprintf("ch%d %s clips %d", ch+1, strings.TrimSpace(ui.FormatDB(float64(level))), clips)
	}
	return strings.Join(parts, " | ")
}

func (l *Listener) updateTUI(msg ui.StatusMsg) {
	if l.tuiProg != nil {
		l.tuiProg.Send(msg)
	}
}

// Stop stops the listener
func (l *Listener) Stop() {
	l.cancel()

	if l.client != nil {
		l.client.Close()
	}

	if l.output != nil {
		l.output.Close()
	}

	if l.tuiProg != nil {
		l.tuiProg.Quit()
	}
}
