package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the daemon's own log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the supervisor's diagnostic log: where supervisor
// messages and bot log I/O failures go. It never applies to bot output logs,
// which are append-only and not rotated.
type Config struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error (default info)
	Format     string `mapstructure:"format"` // text, json, color (default text)
	File       string `mapstructure:"file"`   // optional file; empty means stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Writer returns the destination for cfg. When File is set the writer is a
// rotating lumberjack logger which must be closed by the caller.
func (c Config) Writer() io.WriteCloser {
	if c.File == "" {
		return nopCloser{os.Stderr}
	}
	_ = os.MkdirAll(filepath.Dir(c.File), 0o750)
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a *slog.Logger writing to w in the configured format.
func New(c Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "color":
		h = NewColorTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), nil
}

// Setup builds the logger for c, installs it as slog's default and returns
// the closer for its output.
func Setup(c Config) (io.Closer, error) {
	w := c.Writer()
	l, err := New(c, w)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	slog.SetDefault(l)
	return w, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
