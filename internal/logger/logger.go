// Package logger provides zerolog-backed structured logging for the archiver.
// Output always goes to the console; when a log file is configured it is
// duplicated there so container deployments keep a persistent trail under
// /var/log/archiver.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger embeds zerolog.Logger so callers use the zerolog API directly.
type Logger struct {
	zerolog.Logger
}

// Global is the process-wide logger set by Init.
var Global *Logger

// New builds a logger at the given level. Unknown levels fall back to info.
func New(level string, logFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	out, err := buildOutput(logFile)
	if err != nil {
		return nil, err
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
	return &Logger{l}, nil
}

func buildOutput(logFile string) (io.Writer, error) {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	if logFile == "" {
		return console, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return zerolog.MultiLevelWriter(console, file), nil
}

// Init sets up the global logger.
func Init(level string, logFile string) error {
	l, err := New(level, logFile)
	if err != nil {
		return err
	}
	Global = l
	return nil
}

// Get returns the global logger, or a no-op logger before Init runs.
// Tests rely on the no-op path to keep output quiet.
func Get() *Logger {
	if Global == nil {
		noop := zerolog.Nop()
		return &Logger{noop}
	}
	return Global
}
