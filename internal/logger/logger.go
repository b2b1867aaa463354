// Package logger builds the process loggers: a console writer for
// interactive commands and a size-rotated file sink for the long-lived agent.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a console logger for CLI commands.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// NewAgent returns a logger writing to the agent log file in dir, rotated by
// lumberjack, duplicated to stderr so service managers capture it too.
func NewAgent(dir, fileName string) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), nil, err
	}
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	w := io.MultiWriter(os.Stderr, sink)
	log := zerolog.New(w).With().Timestamp().Logger()
	return log, sink, nil
}

// NewRawSink returns the rotated sink receiving the capture utility's raw
// stdout/stderr when raw logging is enabled.
func NewRawSink(dir, fileName string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    20, // megabytes
		MaxBackups: 2,
		Compress:   true,
	}
}
