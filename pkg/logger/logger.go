// Package logger configures host logging.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ParseLevel parses a level string, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "INFO", "info":
		return slog.LevelInfo
	case "WARN", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config contains logger configuration.
type Config struct {
	Level    slog.Level
	Console  bool   // enable stderr output
	FilePath string // append to this file when non-empty
}

// Setup builds a logger from cfg and installs it as the slog default.
// The returned closer releases the log file, if any.
func Setup(cfg *Config) (io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer

	if cfg.Console {
		writers = append(writers, os.Stderr)
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	slog.SetDefault(slog.New(handler))

	if closer == nil {
		closer = nopCloser{}
	}
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
