// Package telemetry writes structured JSON logs through log/slog.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures the process logger.
type Options struct {
	// LogFile, when set, receives a copy of every record.
	LogFile string
	Level   string
}

var (
	mu      sync.RWMutex
	logger  = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	closeFn = func() error { return nil }
)

// Setup replaces the process logger. It returns an error only when the
// log file cannot be opened.
func Setup(opts Options) error {
	level := ParseLevel(opts.Level)
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if strings.TrimSpace(opts.LogFile) == "" {
		install(slog.New(stdout), func() error { return nil })
		return nil
	}

	file, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	install(slog.New(slogmulti.Fanout(stdout, fileHandler)), file.Close)
	return nil
}

// SetWriters points the logger at the given writers. Used by tests.
func SetWriters(level string, writers ...io.Writer) {
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	}
	install(slog.New(slogmulti.Fanout(handlers...)), func() error { return nil })
}

// Close releases the log file opened by Setup, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeFn()
	closeFn = func() error { return nil }
	return err
}

// Logger returns the current process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func install(l *slog.Logger, closer func() error) {
	mu.Lock()
	prev := closeFn
	logger = l
	closeFn = closer
	mu.Unlock()
	_ = prev()
}

// Debug writes a debug-level log line with the given fields.
func Debug(msg string, fields map[string]any) {
	write(slog.LevelDebug, msg, fields)
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write(slog.LevelInfo, msg, fields)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	write(slog.LevelWarn, msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write(slog.LevelError, msg, fields)
}

func write(level slog.Level, msg string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	Logger().LogAttrs(context.Background(), level, msg, attrs...)
}
