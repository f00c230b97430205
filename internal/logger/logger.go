// Package logger provides leveled, structured logging on top of log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	format  = "text"
	output  io.Writer = os.Stderr
	slogger *slog.Logger
)

func init() {
	reconfigure()
}

// reconfigure rebuilds the handler from the current settings. Caller must not hold mu.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var w io.Writer
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			w = f
		}
		mu.Lock()
		output = w
		mu.Unlock()
	}

	if cfg.Level != "" {
		if err := SetLevel(cfg.Level); err != nil {
			return err
		}
	}
	if cfg.Format != "" {
		if err := SetFormat(cfg.Format); err != nil {
			return err
		}
	}
	reconfigure()
	return nil
}

// InitWithWriter directs output to w. Used by tests to capture log lines.
func InitWithWriter(w io.Writer, lvl, fmtName string) {
	mu.Lock()
	output = w
	mu.Unlock()
	_ = SetLevel(lvl)
	_ = SetFormat(fmtName)
	reconfigure()
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel sets the minimum log level.
func SetLevel(s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(l)
	return nil
}

// SetFormat sets the output format (text or json).
func SetFormat(s string) error {
	s = strings.ToLower(s)
	switch s {
	case "text", "json":
	case "":
		s = "text"
	default:
		return fmt.Errorf("unknown log format %q", s)
	}
	mu.Lock()
	format = s
	mu.Unlock()
	reconfigure()
	return nil
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with key/value pairs.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level with key/value pairs.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level with key/value pairs.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level with key/value pairs.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger { return get().With(args...) }
