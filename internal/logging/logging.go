// Package logging configures the application's slog loggers: a structured
// JSON logger for machine consumption and a human-readable text logger for
// the terminal. Per-service file loggers rotate through lumberjack.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu               sync.RWMutex
	structuredLogger *slog.Logger
	levelVar         = new(slog.LevelVar)
)

// Init initializes the default loggers. Safe to call more than once; the
// last call wins.
func Init(level slog.Level, structuredOutput io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	levelVar.Set(level)
	if structuredOutput == nil {
		structuredOutput = os.Stdout
	}

	handler := slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{Level: levelVar})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
}

// SetLevel adjusts the minimum level of all loggers created by this package.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// Structured returns the global structured logger, initializing a stdout
// logger on first use if Init was never called.
func Structured() *slog.Logger {
	mu.RLock()
	l := structuredLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, os.Stdout)
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// ForService returns a child logger carrying a 'service' attribute.
func ForService(serviceName string) *slog.Logger {
	return Structured().With("service", serviceName)
}

// FileRotation controls lumberjack rotation for file loggers.
type FileRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultFileRotation returns the rotation policy used when the caller
// passes a zero FileRotation.
func DefaultFileRotation() FileRotation {
	return FileRotation{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}
}

// InitWithFile initializes the default loggers writing both to output and
// to a rotated log file at filePath. It returns a closer for the file
// writer.
func InitWithFile(level slog.Level, output io.Writer, filePath string, rotation FileRotation) (func() error, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	if rotation == (FileRotation{}) {
		rotation = DefaultFileRotation()
	}

	writer := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
	}

	if output == nil {
		output = os.Stderr
	}
	Init(level, io.MultiWriter(output, writer))
	return writer.Close, nil
}

// Convenience functions using the default logger.

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) { slog.Info(msg, args...) }

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) { slog.Warn(msg, args...) }

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) { slog.Error(msg, args...) }
