// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger zerolog.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "text" writes human-readable lines; anything else writes JSON.
func Init(level string, format string) {
	InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput is Init writing to w.
func InitWithOutput(level string, format string, w io.Writer) {
	l := ParseLevel(level)

	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	defaultLogger = &Logger{
		level: l,
		logger: zerolog.New(out).
			Level(l.zerolog()).
			With().
			Timestamp().
			Logger(),
	}
}

// ParseLevel maps a level name to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying key=value on every line.
// It returns nil when the default logger is not initialized.
func With(key string, value interface{}) *Logger {
	if defaultLogger == nil {
		return nil
	}
	return &Logger{
		level:  defaultLogger.level,
		logger: defaultLogger.logger.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l != nil && l.level <= DebugLevel {
		l.logger.Debug().Msgf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l != nil && l.level <= InfoLevel {
		l.logger.Info().Msgf(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l != nil && l.level <= WarnLevel {
		l.logger.Warn().Msgf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l != nil && l.level <= ErrorLevel {
		l.logger.Error().Msgf(format, args...)
	}
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}
