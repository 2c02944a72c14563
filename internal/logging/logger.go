// Package logging builds the zap loggers used by the CLI and the API server.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every production log line.
const Service = "urlharvest"

// New builds the process logger. Development mode writes colored console
// lines at debug level; otherwise JSON at info level with a service field,
// ready for a log collector.
func New(development bool) (*zap.Logger, error) {
	logger, err := config(development).Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

func config(development bool) zap.Config {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Fetch failures log at error level and would each carry a trace.
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": Service}
	return cfg
}
