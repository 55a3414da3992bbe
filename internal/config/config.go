// ABOUTME: Layered configuration for the talk server and listen client
// ABOUTME: Defaults, then a YAML file, then .env and JACKSTREAM_* environment, then flags
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jackstream/jackstream-go/internal/client"
	"github.com/jackstream/jackstream-go/internal/server"
	"github.com/jackstream/jackstream-go/internal/source"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "JACKSTREAM_"

const (
	// DefaultPort is the raw TCP port
	DefaultPort = 4242
	// DefaultWSPort is the WebSocket port
	DefaultWSPort = 4243
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("config: invalid")

// Log selects log level and file
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Tone configures the test tone producer
type Tone struct {
	Channels    int       `yaml:"channels"`
	SampleRate  int       `yaml:"sample_rate"`
	Frequencies []float64 `yaml:"frequencies"`
	Amplitude   float64   `yaml:"amplitude"`
}

// Talk is the server configuration
type Talk struct {
	Name             string        `yaml:"name"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	WSPort           int           `yaml:"ws_port"`
	WSPath           string        `yaml:"ws_path"`
	RequireHandshake bool          `yaml:"require_handshake"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	SendBuffer       int           `yaml:"send_buffer"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	QueueDepth       int           `yaml:"queue_depth"`
	StatsInterval    time.Duration `yaml:"stats_interval"`
	MDNS             bool          `yaml:"mdns"`
	TUI              bool          `yaml:"tui"`

	Audio     string `yaml:"audio"`
	Loop      bool   `yaml:"loop"`
	BlockSize int    `yaml:"block_size"`
	Tone      Tone   `yaml:"tone"`

	Log Log `yaml:"log"`
}

// Listen is the listener configuration
type Listen struct {
	Host string `yaml:"host"`
	// Port zero uses the transport's default port
	Port            int           `yaml:"port"`
	Transport       string        `yaml:"transport"`
	WSPath          string        `yaml:"ws_path"`
	Channel         int           `yaml:"channel"`
	Handshake       bool          `yaml:"handshake"`
	Play            bool          `yaml:"play"`
	Volume          int           `yaml:"volume"`
	TUI             bool          `yaml:"tui"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`

	Log Log `yaml:"log"`
}

// DefaultTalk returns the built-in server settings
func DefaultTalk() Talk {
	return Talk{
		Port:             DefaultPort,
		WSPort:           DefaultWSPort,
		WSPath:           server.DefaultWSPath,
		HandshakeTimeout: server.DefaultHandshakeTimeout,
		QueueDepth:       server.DefaultQueueDepth,
		StatsInterval:    time.Second,
		MDNS:             true,
		TUI:              true,
		Loop:             true,
		BlockSize:        source.DefaultBlockSize,
		Tone: Tone{
			Channels:   source.DefaultChannels,
			SampleRate: source.DefaultSampleRate,
			Amplitude:  0.5,
		},
		Log: Log{Level: "info", File: "jackstream-talk.log"},
	}
}

// DefaultListen returns the built-in listener settings
func DefaultListen() Listen {
	return Listen{
		Transport:       client.TransportTCP,
		WSPath:          server.DefaultWSPath,
		Channel:         1,
		Volume:          100,
		DiscoverTimeout: 10 * time.Second,
		Log:             Log{Level: "info", File: "jackstream-listen.log"},
	}
}

// LoadFile overlays YAML from path onto v. A missing file is not an error.
func LoadFile[T any](path string, v *T) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	logrus.WithField("file", path).Debug("Loaded environment file")
	return nil
}

// ApplyEnv overlays JACKSTREAM_* variables onto the server settings
func (c *Talk) ApplyEnv() error {
	e := envReader{}
	e.str("NAME", &c.Name)
	e.str("HOST", &c.Host)
	e.integer("PORT", &c.Port)
	e.integer("WS_PORT", &c.WSPort)
	e.str("WS_PATH", &c.WSPath)
	e.flag("REQUIRE_HANDSHAKE", &c.RequireHandshake)
	e.duration("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	e.list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	e.integer("SEND_BUFFER", &c.SendBuffer)
	e.duration("WRITE_TIMEOUT", &c.WriteTimeout)
	e.integer("QUEUE_DEPTH", &c.QueueDepth)
	e.duration("STATS_INTERVAL", &c.StatsInterval)
	e.flag("MDNS", &c.MDNS)
	e.flag("TUI", &c.TUI)
	e.str("AUDIO", &c.Audio)
	e.flag("LOOP", &c.Loop)
	e.integer("BLOCK_SIZE", &c.BlockSize)
	e.integer("CHANNELS", &c.Tone.Channels)
	e.integer("SAMPLE_RATE", &c.Tone.SampleRate)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FILE", &c.Log.File)
	return e.err()
}

// ApplyEnv overlays JACKSTREAM_* variables onto the listener settings
func (c *Listen) ApplyEnv() error {
	e := envReader{}
	e.str("HOST", &c.Host)
	e.integer("PORT", &c.Port)
	e.str("TRANSPORT", &c.Transport)
	e.str("WS_PATH", &c.WSPath)
	e.integer("CHANNEL", &c.Channel)
	e.flag("HANDSHAKE", &c.Handshake)
	e.flag("PLAY", &c.Play)
	e.integer("VOLUME", &c.Volume)
	e.flag("TUI", &c.TUI)
	e.duration("DISCOVER_TIMEOUT", &c.DiscoverTimeout)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FILE", &c.Log.File)
	return e.err()
}

// Validate checks the server settings
func (c *Talk) Validate() error {
	var errs []error
	errs = append(errs, validPort("port", c.Port, false))
	errs = append(errs, validPort("ws_port", c.WSPort, true))
	if c.WSPort != 0 && c.WSPort == c.Port {
		errs = append(errs, fmt.Errorf("%w: ws_port must differ from port", ErrInvalid))
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("%w: ws_path %q must start with /", ErrInvalid, c.WSPath))
	}
	if c.StatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: stats_interval must be positive", ErrInvalid))
	}
	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("%w: queue_depth must be at least 1", ErrInvalid))
	}
	if c.BlockSize < 1 {
		errs = append(errs, fmt.Errorf("%w: block_size must be at least 1", ErrInvalid))
	}
	if c.Audio == "" && c.Tone.Channels < 1 {
		errs = append(errs, fmt.Errorf("%w: tone needs at least one channel", ErrInvalid))
	}
	errs = append(errs, validLevel(c.Log.Level))
	return errors.Join(errs...)
}

// Validate checks the listener settings
func (c *Listen) Validate() error {
	var errs []error
	errs = append(errs, validPort("port", c.Port, true))
	if c.Transport != client.TransportTCP && c.Transport != client.TransportWebSocket {
		errs = append(errs, fmt.Errorf("%w: transport %q is not tcp or websocket", ErrInvalid, c.Transport))
	}
	if c.Channel < 1 {
		errs = append(errs, fmt.Errorf("%w: channel is 1-based, got %d", ErrInvalid, c.Channel))
	}
	if c.Volume < 0 || c.Volume > 100 {
		errs = append(errs, fmt.Errorf("%w: volume %d outside 0-100", ErrInvalid, c.Volume))
	}
	errs = append(errs, validLevel(c.Log.Level))
	return errors.Join(errs...)
}

func validPort(name string, port int, zeroOK bool) error {
	if zeroOK && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalid, name, port)
	}
	return nil
}

func validLevel(level string) error {
	if _, err := logrus.ParseLevel(level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ServerConfig maps the settings onto the server
func (c *Talk) ServerConfig() server.Config {
	cfg := server.Config{
		Name:             c.Name,
		TCPAddr:          fmt.Sprintf("%s:%d", c.Host, c.Port),
		WSPath:           c.WSPath,
		RequireHandshake: c.RequireHandshake,
		HandshakeTimeout: c.HandshakeTimeout,
		AllowedOrigins:   c.AllowedOrigins,
		SendBuffer:       c.SendBuffer,
		WriteTimeout:     c.WriteTimeout,
		QueueDepth:       c.QueueDepth,
		StatsInterval:    c.StatsInterval,
		EnableMDNS:       c.MDNS,
		UseTUI:           c.TUI,
	}
	if c.WSPort != 0 {
		cfg.WSAddr = fmt.Sprintf("%s:%d", c.Host, c.WSPort)
	}
	return cfg
}

// SourceConfig maps the settings onto the producer
func (c *Talk) SourceConfig() source.Config {
	return source.Config{
		Path:      c.Audio,
		Loop:      c.Loop,
		BlockSize: c.BlockSize,
		Realtime:  true,
		Tone: source.ToneConfig{
			Channels:    c.Tone.Channels,
			SampleRate:  c.Tone.SampleRate,
			Frequencies: c.Tone.Frequencies,
			Amplitude:   c.Tone.Amplitude,
		},
	}
}

// ClientConfig maps the settings onto the listener client. A zero port picks
// the default for the transport.
func (c *Listen) ClientConfig() client.Config {
	port := c.Port
	if port == 0 {
		port = DefaultPort
		if c.Transport == client.TransportWebSocket {
			port = DefaultWSPort
		}
	}
	addr := fmt.Sprintf("%s:%d", c.Host, port)
	return client.Config{
		Transport: c.Transport,
		Addr:      addr,
		URL:       "ws://" + addr + c.WSPath,
		Handshake: c.Handshake,
		Channel:   c.Channel,
	}
}

// StateDir holds files the listener writes back
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".jackstream"), nil
}

// LastServer is the server the listener connected to most recently
type LastServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoadLastServer reads the remembered server from dir. A missing file
// returns the zero value.
func LoadLastServer(dir string) (LastServer, error) {
	var last LastServer
	err := LoadFile(filepath.Join(dir, "listen.yaml"), &last)
	return last, err
}

// SaveLastServer remembers the server in dir
func SaveLastServer(dir string, last LastServer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := yaml.Marshal(last)
	if err != nil {
		return fmt.Errorf("marshal last server: %w", err)
	}

	path := filepath.Join(dir, "listen.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
