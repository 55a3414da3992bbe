// ABOUTME: Logging setup shared by the talk and listen binaries
// ABOUTME: Sends logrus output to stdout and an append-mode file, or the file alone under a TUI
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// SetupLogging configures the standard logrus logger. The returned closer
// releases the log file.
func SetupLogging(cfg Log, tui bool) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.File == "" {
		logrus.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if tui {
		// the TUI owns the terminal
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	return f, nil
}
