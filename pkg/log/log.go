// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package log

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	logger = zap.NewNop()
}

// InitGlobalLogger initializes the global logger with the provided config, and returns the logger for the caller to sync on exit.
func InitGlobalLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.WithMessagef(err, "parse log level:%s", cfg.Level)
	}

	zapCfg := DefaultZapLoggerConfig
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.File != "" {
		zapCfg.OutputPaths = []string{cfg.File}
	}

	l, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.WithMessage(err, "build zap logger")
	}
	logger = l
	return logger, nil
}

// SetGlobalLogger replaces the global logger, mainly for tests.
func SetGlobalLogger(l *zap.Logger) {
	logger = l
}

func GetLogger() *zap.Logger {
	return logger
}

// With creates a child logger with the provided fields.
func With(fields ...zap.Field) *zap.Logger {
	return logger.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}
