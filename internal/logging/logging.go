// Package logging builds the application's JSON slog logger, optionally
// teeing it into a size-rotated log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes where logs go.
type Config struct {
	Level      slog.Level
	File       string // empty disables the log file
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns rotation limits suitable for a desktop service.
func DefaultConfig() Config {
	return Config{
		Level:      slog.LevelInfo,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
}

// Setup returns a JSON logger writing to out and, when cfg.File is set, to a
// rotated file as well. The returned closer releases the file and is never
// nil.
func Setup(cfg Config, out io.Writer) (*slog.Logger, io.Closer, error) {
	w := out
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(out, rotator)
		closer = rotator
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level}))
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
