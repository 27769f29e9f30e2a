// Package log is the leveled key/value logger used across brandgallery.
//
// Calls take a message followed by alternating keys and values:
//
//	log.Info("admin signed in", "email", email)
//
// Output goes through log/slog so the same call sites can emit text or JSON.
package log

import (
	"context"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger writes leveled records to a writer.
type Logger struct {
	mu     sync.Mutex
	level  Level
	writer io.Writer
	json   bool
	slog   *slog.Logger
}

// New creates a Logger writing text records at LevelInfo to w.
func New(w io.Writer) *Logger {
	l := &Logger{level: LevelInfo, writer: w}
	l.rebuild()
	return l
}

var globalLogger = New(os.Stdout)

func Debug(msg string, args ...interface{}) {
	globalLogger.log(LevelDebug, msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.log(LevelInfo, msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.log(LevelWarn, msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.log(LevelError, msg, args...)
}

func SetLevel(level Level) {
	globalLogger.SetLevel(level)
}

func SetWriter(w io.Writer) {
	globalLogger.SetWriter(w)
}

// SetFormat switches the global logger between "text" and "json" output.
func SetFormat(format string) {
	globalLogger.SetFormat(format)
}

// Default returns the process-wide Logger.
func Default() *Logger {
	return globalLogger
}

// Std returns a standard library logger that writes through the global
// logger at LevelError. Used for http.Server.ErrorLog.
func Std() *stdlog.Logger {
	return slog.NewLogLogger(globalLogger.handler().Handler(), slog.LevelError)
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.rebuild()
}

func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
	l.rebuild()
}

func (l *Logger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.json = strings.EqualFold(format, "json")
	l.rebuild()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

// rebuild must be called with l.mu held.
func (l *Logger) rebuild() {
	w := l.writer
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: l.level.slogLevel()}
	var h slog.Handler
	if l.json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l.slog = slog.New(h)
}

func (l *Logger) handler() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slog == nil {
		l.rebuild()
	}
	return l.slog
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	l.mu.Lock()
	if level < l.level {
		l.mu.Unlock()
		return
	}
	if l.slog == nil {
		l.rebuild()
	}
	s := l.slog
	l.mu.Unlock()

	s.Log(context.Background(), level.slogLevel(), msg, args...)
}
