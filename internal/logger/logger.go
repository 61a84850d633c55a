package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	With(args ...interface{}) Logger
}

// SlogLogger adapts slog to the printf-style Logger used across the agent.
type SlogLogger struct {
	log *slog.Logger
}

func New(level string, format string) Logger {
	return NewWithWriter(os.Stderr, level, format)
}

func NewWithWriter(w io.Writer, level string, format string) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{log: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func (l *SlogLogger) With(args ...interface{}) Logger {
	return &SlogLogger{log: l.log.With(args...)}
}

func (l *SlogLogger) Debug(args ...interface{}) {
	l.log.Debug(fmt.Sprint(args...))
}

func (l *SlogLogger) Info(args ...interface{}) {
	l.log.Info(fmt.Sprint(args...))
}

func (l *SlogLogger) Warn(args ...interface{}) {
	l.log.Warn(fmt.Sprint(args...))
}

func (l *SlogLogger) Error(args ...interface{}) {
	l.log.Error(fmt.Sprint(args...))
}

func (l *SlogLogger) Fatal(args ...interface{}) {
	l.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}

func (l *SlogLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Fatalf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Default is usable before Init so packages never log through a nil logger.
var Default Logger = New("info", "text")

func Init(level string, format string) {
	Default = New(level, format)
}

// Discard returns a logger that drops everything, for tests.
func Discard() Logger {
	return NewWithWriter(io.Discard, "error", "text")
}

func Debug(args ...interface{}) {
	Default.Debug(args...)
}

func Info(args ...interface{}) {
	Default.Info(args...)
}

func Warn(args ...interface{}) {
	Default.Warn(args...)
}

func Error(args ...interface{}) {
	Default.Error(args...)
}

func Fatal(args ...interface{}) {
	Default.Fatal(args...)
}

func Debugf(format string, args ...interface{}) {
	Default.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Default.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Default.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Default.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Default.Fatalf(format, args...)
}
