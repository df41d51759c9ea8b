// Package log provides structured logging for refindex, backed by zerolog.
//
// Components obtain a named logger from a LoggerProvider and log with
// key-value pairs:
//
//	logger := log.GetLoggerWithName("SOM")
//	logger.Info("training complete", "iterations", 1000, "qe", 0.12)
//
// The default provider writes to stderr at Info level; SetProvider swaps the
// provider globally (tests install a silent one).
package log

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging surface used across the module.
// Fields are alternating key-value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLoggerWithName(name string) Logger
}

var (
	mu       sync.RWMutex
	provider LoggerProvider
)

// SetProvider replaces the global logger provider.
func SetProvider(p LoggerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = p
}

// GetLoggerWithName returns a named logger from the global provider,
// initializing a default zerolog provider on first use.
func GetLoggerWithName(name string) Logger {
	mu.Lock()
	defer mu.Unlock()
	if provider == nil {
		provider = NewZerologProvider(ToLogLevel(os.Getenv("REFINDEX_LOG_LEVEL")))
	}
	return provider.GetLoggerWithName(name)
}

// ToLogLevel parses a level string, defaulting to Info.
func ToLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ZerologProvider is a LoggerProvider backed by a shared zerolog.Logger.
type ZerologProvider struct {
	base zerolog.Logger
}

// NewZerologProvider creates a provider writing console output to stderr at
// the given level.
func NewZerologProvider(level zerolog.Level) *ZerologProvider {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	base := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologProvider{base: base}
}

// NewZerologProviderWithLogger wraps an existing zerolog.Logger.
func NewZerologProviderWithLogger(l zerolog.Logger) *ZerologProvider {
	return &ZerologProvider{base: l}
}

// GetLoggerWithName returns a logger with the component name attached.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{l: p.base.With().Str("component", name).Logger()}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z *zerologLogger) Debug(msg string, fields ...interface{}) {
	emit(z.l.Debug(), msg, fields)
}

func (z *zerologLogger) Info(msg string, fields ...interface{}) {
	emit(z.l.Info(), msg, fields)
}

func (z *zerologLogger) Warn(msg string, fields ...interface{}) {
	emit(z.l.Warn(), msg, fields)
}

func (z *zerologLogger) Error(msg string, fields ...interface{}) {
	emit(z.l.Error(), msg, fields)
}

func emit(ev *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
