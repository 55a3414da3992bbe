// ABOUTME: Entry point for the jackstream listener
// ABOUTME: Finds or dials a talk server, selects a channel, and prints or plays it
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackstream/jackstream-go/internal/app"
	"github.com/jackstream/jackstream-go/internal/config"
	"github.com/jackstream/jackstream-go/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	noState    bool
	flagCfg    = config.DefaultListen()
)

var rootCmd = &cobra.Command{
	Use:   version.Listen + " [host]",
	Short: "Listen to one channel of a jackstream talk server",
	Long: `jackstream-listen connects to a talk server over raw TCP or WebSocket,
selects a channel and prints the per-channel statistics. With --play the
selected channel is played on the default audio device.

When no host is given the server is found via mDNS, falling back to the
last server used.`,
	Version:       version.Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "jackstream-listen.yaml", "YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "environment file with JACKSTREAM_* settings")
	f.BoolVar(&noState, "no-state", false, "do not read or write ~/.jackstream/listen.yaml")

	f.StringVar(&flagCfg.Host, "host", "", "server host (default: discover via mDNS)")
	f.IntVarP(&flagCfg.Port, "port", "p", 0, "server port (default: 4242 for tcp, 4243 for websocket)")
	f.StringVarP(&flagCfg.Transport, "transport", "t", flagCfg.Transport, "tcp or websocket")
	f.StringVar(&flagCfg.WSPath, "ws-path", flagCfg.WSPath, "WebSocket path")
	f.IntVarP(&flagCfg.Channel, "channel", "c", flagCfg.Channel, "channel to listen to, starting at 1")
	f.BoolVar(&flagCfg.Handshake, "handshake", false, "send the connect message over raw TCP")
	f.BoolVar(&flagCfg.Play, "play", false, "play the selected channel")
	f.IntVar(&flagCfg.Volume, "volume", flagCfg.Volume, "playback volume 0-100")
	f.BoolVar(&flagCfg.TUI, "tui", false, "show meters in a TUI")
	f.DurationVar(&flagCfg.DiscoverTimeout, "discover-timeout", flagCfg.DiscoverTimeout, "how long to browse for a server")

	f.StringVar(&flagCfg.Log.Level, "loglevel", flagCfg.Log.Level, "debug, info, warning or error")
	f.StringVar(&flagCfg.Log.File, "log-file", flagCfg.Log.File, "log file path")
}

// loadConfig layers defaults, file, environment and explicitly set flags
func loadConfig(cmd *cobra.Command, args []string) (config.Listen, error) {
	cfg := config.DefaultListen()
	if err := config.LoadFile(configFile, &cfg); err != nil {
		return cfg, err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("host", func() { cfg.Host = flagCfg.Host })
	set("port", func() { cfg.Port = flagCfg.Port })
	set("transport", func() { cfg.Transport = flagCfg.Transport })
	set("ws-path", func() { cfg.WSPath = flagCfg.WSPath })
	set("channel", func() { cfg.Channel = flagCfg.Channel })
	set("handshake", func() { cfg.Handshake = flagCfg.Handshake })
	set("play", func() { cfg.Play = flagCfg.Play })
	set("volume", func() { cfg.Volume = flagCfg.Volume })
	set("tui", func() { cfg.TUI = flagCfg.TUI })
	set("discover-timeout", func() { cfg.DiscoverTimeout = flagCfg.DiscoverTimeout })
	set("loglevel", func() { cfg.Log.Level = flagCfg.Log.Level })
	set("log-file", func() { cfg.Log.File = flagCfg.Log.File })

	if len(args) == 1 {
		cfg.Host = args[0]
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logFile, err := config.SetupLogging(cfg.Log, cfg.TUI)
	if err != nil {
		return err
	}
	defer logFile.Close()

	var stateDir string
	if !noState {
		if stateDir, err = config.StateDir(); err != nil {
			logrus.WithError(err).Warn("Not remembering servers")
		}
	}

	listener := app.New(app.Config{Listen: cfg, StateDir: stateDir})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("Shutdown signal received")
		listener.Stop()
	}()

	err = listener.Start()
	listener.Stop()
	if err != nil {
		return err
	}

	logrus.Info("Listener stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
