// Package loggy is the structured logger used across fieldsync. It wraps
// log/slog, keeps one process-wide logger for the CLI and lets library
// components receive their own *Logger.
package loggy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	once         sync.Once
)

// Config configures the logger
type Config struct {
	Level      slog.Level
	Format     string // "json" or "text"
	Output     string // "stdout", "stderr", or a file path
	AddSource  bool   // Attach file:line of the caller
	TimeFormat string // Empty keeps the handler default
}

// DefaultConfig returns the configuration used before the config file is read
func DefaultConfig() Config {
	return Config{
		Level:      slog.LevelInfo,
		Format:     "text",
		Output:     "stderr",
		AddSource:  true,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger
type Logger struct {
	slogger   *slog.Logger
	addSource bool
}

// Init builds the global logger from cfg. Only the first call has an effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var output io.Writer
		output, err = openOutput(cfg.Output)
		if err != nil {
			return
		}
		setGlobalLogger(New(output, cfg))
	})

	if err != nil {
		NewNoopLogger()
	}

	return err
}

// New creates a logger writing to w. It does not touch the global logger.
func New(w io.Writer, cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	if cfg.TimeFormat != "" {
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(a.Key, t.Format(cfg.TimeFormat))
				}
			}
			return a
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slogger: slog.New(handler), addSource: cfg.AddSource}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// setGlobalLogger replaces the global logger instance
func setGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// NewNoopLogger creates and installs a logger that discards everything.
// Tests use it for every component constructor.
func NewNoopLogger() *Logger {
	noop := New(io.Discard, Config{Level: slog.LevelError})
	setGlobalLogger(noop)
	return noop
}

// Debug logs at debug level on the global logger
func Debug(msg string, args ...any) {
	GetGlobalLogger().log(slog.LevelDebug, msg, args...)
}

// Info logs at info level on the global logger
func Info(msg string, args ...any) {
	GetGlobalLogger().log(slog.LevelInfo, msg, args...)
}

// Warn logs at warn level on the global logger
func Warn(msg string, args ...any) {
	GetGlobalLogger().log(slog.LevelWarn, msg, args...)
}

// Error logs at error level on the global logger
func Error(msg string, args ...any) {
	GetGlobalLogger().log(slog.LevelError, msg, args...)
}

// With returns the global logger with extra attributes
func With(args ...any) *Logger {
	return GetGlobalLogger().With(args...)
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs at info level
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs at error level
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// Enabled reports whether the logger emits records at level
func (l *Logger) Enabled(level slog.Level) bool {
	if l == nil || l.slogger == nil {
		return false
	}
	return l.slogger.Enabled(context.Background(), level)
}

// log is always called from an exported wrapper, so Caller(2) is the wrapper's caller
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.slogger == nil || !l.Enabled(level) {
		return
	}

	r := slog.NewRecord(time.Now(), level, msg, 0)
	if l.addSource {
		if _, file, line, ok := runtime.Caller(2); ok {
			r.AddAttrs(slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(file), line)))
		}
	}
	r.Add(args...)

	_ = l.slogger.Handler().Handle(context.Background(), r)
}

// With returns a Logger that includes args in each record
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.slogger == nil {
		return l
	}
	return &Logger{slogger: l.slogger.With(args...), addSource: l.addSource}
}

// WithGroup returns a Logger that nests attributes under name
func (l *Logger) WithGroup(name string) *Logger {
	if l == nil || l.slogger == nil {
		return l
	}
	return &Logger{slogger: l.slogger.WithGroup(name), addSource: l.addSource}
}

// WithError adds error details
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error(), "error_type", fmt.Sprintf("%T", err))
}

// Handler returns the underlying slog.Handler
func (l *Logger) Handler() slog.Handler {
	return l.slogger.Handler()
}
