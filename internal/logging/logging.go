// Package logging builds the zap loggers used across the backend.
//
// Log output always goes to stderr or a file, never stdout: when the
// editor connection runs over stdio, stdout carries protocol frames.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string

	// File is an optional log file path. Empty means stderr.
	File string

	// Development enables console encoding with human-readable output.
	Development bool
}

// New creates a logger from the given options.
func New(opts Options) (*zap.Logger, error) {
	logger, _, err := NewWithLevel(opts)
	return logger, err
}

// NewWithLevel creates a logger and returns its level handle so the
// caller can adjust verbosity at runtime, e.g. on a config reload.
func NewWithLevel(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	atomicLevel := zap.NewAtomicLevelAt(level)
	cfg.Level = atomicLevel

	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, atomicLevel, nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
