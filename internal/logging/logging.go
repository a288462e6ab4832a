// Package logging constructs the process zap.Logger. The teacher
// calls zap.NewProduction() directly in main; this wraps that same
// call so the log level can be tuned by an environment variable
// without touching main.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.Logger, honoring LOG_LEVEL (debug,
// info, warn, error; default info).
func New() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
