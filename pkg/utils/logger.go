package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger, named "shashin". Debug selects zap's development
// config (console, debug level); otherwise production JSON at info level. Both use
// ISO8601 timestamps, and stack traces are kept for debug runs only.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = !debug
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("shashin"), nil
}
