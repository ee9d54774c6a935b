// Package logger provides component-scoped structured logging for deskmate.
// All packages log through it so the console and the workspace log file stay
// consistent regardless of which front end is attached.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

type Level int8

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu  sync.RWMutex
	log = newConsoleLogger(zerolog.InfoLevel)
)

func newConsoleLogger(level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the minimum level for all subsequent log calls.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(toZerolog(level))
}

// EnableFileSink mirrors log output into <dir>/deskmate.log in addition to
// the console. Returns an error only if the directory cannot be created.
func EnableFileSink(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "deskmate.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	level := log.GetLevel()
	log = zerolog.New(io.MultiWriter(console, f)).Level(level).With().Timestamp().Logger()
	return nil
}

func event(ev *zerolog.Event, component, msg string, fields map[string]interface{}) {
	ev = ev.Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, fields)
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, fields)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, fields)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, fields)
}

// InfoC logs an info message for a component without extra fields.
func InfoC(component, msg string) {
	InfoCF(component, msg, nil)
}

// WarnC logs a warning for a component without extra fields.
func WarnC(component, msg string) {
	WarnCF(component, msg, nil)
}
