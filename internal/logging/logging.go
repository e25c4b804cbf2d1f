package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// L is the default logger of the application
	L *zap.Logger

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	// Production logger until InitializeLogger is called by the binary.
	// Library users may replace it with SetLogger.
	L, _ = build()
}

func build() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = level
	config.DisableCaller = true

	return config.Build()
}

// InitializeLogger configures the logger with the specified log level
func InitializeLogger(logLevel string) error {
	if err := SetLevel(logLevel); err != nil {
		return err
	}

	logger, err := build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	L = logger
	return nil
}

// SetLevel changes the level of loggers built by InitializeLogger at runtime.
func SetLevel(logLevel string) error {
	l, err := ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}

	level.SetLevel(l)
	return nil
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	L = l
}

// ParseLevel converts string log level to zapcore.Level
func ParseLevel(logLevel string) (zapcore.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("supported levels are: debug, info, warn, error, fatal")
	}
}
