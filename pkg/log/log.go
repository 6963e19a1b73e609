// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default logger. When file is set, records are also written as JSON
// to a rotated log file. The returned closer releases that file.
func Setup(logLevel, file string) io.Closer {
	level := ParseLevel(logLevel)

	var (
		writer io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}

		writer = io.MultiWriter(os.Stderr, rotated)
		closer = rotated
	}

	slog.SetDefault(New(writer, level, file != ""))

	return closer
}

// New builds a logger writing to w; JSON output is used for machine-read destinations.
func New(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}
