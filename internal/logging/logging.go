// Package logging builds the zap loggers used by every role.
package logging

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder, level and identity of a role's logger.
type Options struct {
	Level       string // debug, info, warn, error
	Role        string // coordinator, worker, observer
	Port        int
	Development bool // console encoder with colors instead of JSON
}

// New returns a logger named after the role and tagged with its port and a
// random instance ID, so output of several roles on one terminal can be told
// apart.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = lvl
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	if opts.Role != "" {
		logger = logger.Named(opts.Role)
	}
	fields := []zap.Field{zap.String("instance", uuid.NewString())}
	if opts.Port != 0 {
		fields = append(fields, zap.Int("port", opts.Port))
	}
	return logger.With(fields...), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
