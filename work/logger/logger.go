// Package logger provides the leveled logging used across the proxy.
// Messages carry a `{package/file - Func}` prefix by convention so a busy
// debug log can be traced back to its call site.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Level is the severity threshold for emitted messages.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger writing through the standard log package.
type Logger struct {
	mu    sync.RWMutex
	level Level
}

// New returns a Logger at the given level name. Unrecognized names fall
// back to INFO.
func New(level string) *Logger {
	return &Logger{level: ParseLevel(level)}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{level: INFO}
	})
	return defaultLogger
}

// ParseLevel converts a level name to a Level.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel changes the global default logger's level.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// SetLevel changes this logger's level.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(level)
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func emit(tag string, format string, v ...any) {
	log.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, v ...any) {
	if l.enabled(DEBUG) {
		emit("DEBUG", format, v...)
	}
}

// Info logs at INFO level.
func (l *Logger) Info(format string, v ...any) {
	if l.enabled(INFO) {
		emit("INFO", format, v...)
	}
}

// Warn logs at WARN level.
func (l *Logger) Warn(format string, v ...any) {
	if l.enabled(WARN) {
		emit("WARN", format, v...)
	}
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, v ...any) {
	if l.enabled(ERROR) {
		emit("ERROR", format, v...)
	}
}

// Package-level shortcuts routed through the default logger.

func Debug(format string, v ...any) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...any)  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...any)  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...any) { getDefaultLogger().Error(format, v...) }
