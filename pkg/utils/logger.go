package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger writing to stderr. When debug is true, uses development config
// (human-readable, debug level); otherwise production config (JSON, info level, ISO8601 time).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewConsoleLogger returns a human-readable logger for interactive commands. Only warnings and
// errors are shown unless debug is set, so log lines do not interleave with the conversation.
func NewConsoleLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = !debug
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// NewComponentLogger returns l named after component, or a no-op logger when l is nil.
func NewComponentLogger(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(component)
}
