// Package logger provides structured logging utilities.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// Options selects the level and encoding of a logger.
type Options struct {
	Level string
	// Format is "json" (default) or "console".
	Format string
}

// New creates a JSON logger at the given level.
func New(level string) (*Logger, error) {
	return NewWithOptions(Options{Level: level})
}

// NewWithOptions creates a logger writing to stdout.
func NewWithOptions(opts Options) (*Logger, error) {
	encoding := strings.ToLower(opts.Format)
	switch encoding {
	case "", "json":
		encoding = "json"
	case "console":
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	encoder := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		Encoding:         encoding,
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithChatbot scopes a logger to one monitored chatbot.
func (l *Logger) WithChatbot(chatbotID string) *Logger {
	return l.With(zap.String("chatbot_id", chatbotID))
}

// WithSession scopes a logger to a tracked session.
func (l *Logger) WithSession(sessionID, userID string) *Logger {
	return l.With(
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
}

// Named creates a child logger for a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var global = NewNop()

// Global returns the process-wide logger. It discards output until SetGlobal.
func Global() *Logger {
	return global
}

// SetGlobal installs l as the process-wide logger, including zap's globals.
func SetGlobal(l *Logger) {
	global = l
	zap.ReplaceGlobals(l.Logger)
}
