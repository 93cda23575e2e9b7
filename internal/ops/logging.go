package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hearthchat/hearth/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogVaultOperation logs a secure-vault operation
func (l *Logger) LogVaultOperation(op string, key string, err error) {
	if err != nil {
		l.Error("vault operation failed",
			"operation", op,
			"key", key,
			"error", err)
	} else {
		l.Debug("vault operation completed",
			"operation", op,
			"key", key)
	}
}

// LogRelayQuery logs a relay pool query
func (l *Logger) LogRelayQuery(kind string, count int, duration time.Duration, err error) {
	if err != nil {
		l.Error("relay query failed",
			"kind", kind,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("relay query completed",
			"kind", kind,
			"events", count,
			"duration_ms", duration.Milliseconds())
	}
}

// LogReconcile logs a merge-and-apply step on an aggregate
func (l *Logger) LogReconcile(aggregate string, incoming, kept int) {
	l.Debug("reconciled events",
		"aggregate", aggregate,
		"incoming", incoming,
		"kept", kept)
}

// LogSessionTransition logs an identity lifecycle transition
func (l *Logger) LogSessionTransition(from, to string, pubkey string) {
	l.Info("session transition",
		"from", from,
		"to", to,
		"pubkey", pubkey)
}
