// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options pick encoder and level. Verbose wins over both.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Verbose bool
}

// New returns the root logger and its level handle, which stays adjustable
// at runtime for the config watcher.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, zap.AtomicLevel{}, err
		}
		level = parsed
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	atomic := zap.NewAtomicLevelAt(level)

	var cfg zap.Config
	if opts.Format == "console" || opts.Verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = atomic

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, atomic, nil
}

// SetLevel retunes a built logger's level, for hot config reloads.
func SetLevel(atomic zap.AtomicLevel, level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	atomic.SetLevel(parsed)
	return nil
}
