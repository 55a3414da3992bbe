// ABOUTME: Entry point for the jackstream talk server
// ABOUTME: Layers config file, environment and flags, then serves the producer until interrupted
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackstream/jackstream-go/internal/config"
	"github.com/jackstream/jackstream-go/internal/server"
	"github.com/jackstream/jackstream-go/internal/source"
	"github.com/jackstream/jackstream-go/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
	flagCfg    = config.DefaultTalk()
)

var rootCmd = &cobra.Command{
	Use:   version.Talk,
	Short: "Stream multichannel audio to jackstream listeners",
	Long: `jackstream-talk serves a multichannel float32 stream over raw TCP and
WebSocket. Each listener receives one selected channel as DATA frames and
per-channel RMS and clip statistics as META frames.

Without --audio a test tone is generated, one frequency per channel.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "jackstream-talk.yaml", "YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "environment file with JACKSTREAM_* settings")

	f.StringVarP(&flagCfg.Name, "name", "n", "", "server name (default: hostname-jackstream)")
	f.StringVar(&flagCfg.Host, "host", "", "listen host")
	f.IntVarP(&flagCfg.Port, "port", "p", flagCfg.Port, "raw TCP port")
	f.IntVar(&flagCfg.WSPort, "ws-port", flagCfg.WSPort, "WebSocket port, 0 disables WebSocket")
	f.StringVar(&flagCfg.WSPath, "ws-path", flagCfg.WSPath, "WebSocket path")
	f.BoolVar(&flagCfg.RequireHandshake, "require-handshake", false, "require the connect message on raw TCP")
	f.DurationVar(&flagCfg.StatsInterval, "stats-interval", flagCfg.StatsInterval, "interval between stats records")
	f.IntVar(&flagCfg.QueueDepth, "queue-depth", flagCfg.QueueDepth, "ticks buffered between producer and fan-out")
	f.BoolVar(&flagCfg.MDNS, "mdns", flagCfg.MDNS, "advertise via mDNS")
	f.BoolVar(&flagCfg.TUI, "tui", flagCfg.TUI, "show the status TUI")

	f.StringVar(&flagCfg.Audio, "audio", "", "MP3 or FLAC file to stream (default: test tone)")
	f.BoolVar(&flagCfg.Loop, "loop", flagCfg.Loop, "restart the file at its end")
	f.IntVar(&flagCfg.BlockSize, "block-size", flagCfg.BlockSize, "frames per tick")
	f.IntVarP(&flagCfg.Tone.Channels, "channels", "c", flagCfg.Tone.Channels, "number of tone channels to serve")
	f.IntVar(&flagCfg.Tone.SampleRate, "sample-rate", flagCfg.Tone.SampleRate, "tone sample rate")
	f.Float64Var(&flagCfg.Tone.Amplitude, "amplitude", flagCfg.Tone.Amplitude, "tone peak level, above 1 clips")

	f.StringVar(&flagCfg.Log.Level, "loglevel", flagCfg.Log.Level, "debug, info, warning or error")
	f.StringVar(&flagCfg.Log.File, "log-file", flagCfg.Log.File, "log file path")
}

// loadConfig layers defaults, file, environment and explicitly set flags
func loadConfig(cmd *cobra.Command) (config.Talk, error) {
	cfg := config.DefaultTalk()
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
	set("name", func() { cfg.Name = flagCfg.Name })
	set("host", func() { cfg.Host = flagCfg.Host })
	set("port", func() { cfg.Port = flagCfg.Port })
	set("ws-port", func() { cfg.WSPort = flagCfg.WSPort })
	set("ws-path", func() { cfg.WSPath = flagCfg.WSPath })
	set("require-handshake", func() { cfg.RequireHandshake = flagCfg.RequireHandshake })
	set("stats-interval", func() { cfg.StatsInterval = flagCfg.StatsInterval })
	set("queue-depth", func() { cfg.QueueDepth = flagCfg.QueueDepth })
	set("mdns", func() { cfg.MDNS = flagCfg.MDNS })
	set("tui", func() { cfg.TUI = flagCfg.TUI })
	set("audio", func() { cfg.Audio = flagCfg.Audio })
	set("loop", func() { cfg.Loop = flagCfg.Loop })
	set("block-size", func() { cfg.BlockSize = flagCfg.BlockSize })
	set("channels", func() { cfg.Tone.Channels = flagCfg.Tone.Channels })
	set("sample-rate", func() { cfg.Tone.SampleRate = flagCfg.Tone.SampleRate })
	set("amplitude", func() { cfg.Tone.Amplitude = flagCfg.Tone.Amplitude })
	set("loglevel", func() { cfg.Log.Level = flagCfg.Log.Level })
	set("log-file", func() { cfg.Log.File = flagCfg.Log.File })

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = fmt.Sprintf("%s-%s", hostname, version.Product)
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logFile, err := config.SetupLogging(cfg.Log, cfg.TUI)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logrus.WithFields(logrus.Fields{
		"name":    cfg.Name,
		"port":    cfg.Port,
		"ws_port": cfg.WSPort,
		"version": version.Version,
	}).Info("Starting jackstream talk")
	logrus.WithField("file", cfg.Log.File).Info("Logging to file")

	producer, err := source.Open(cfg.SourceConfig())
	if err != nil {
		return fmt.Errorf("failed to open audio source: %w", err)
	}

	srv := server.New(cfg.ServerConfig(), producer)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down gracefully")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("Server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
