// Package logger holds the process-wide zap logger.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and level. An empty Level keeps the preset's
// default: debug for development, info otherwise.
type Options struct {
	Development bool
	Level       string
}

var current atomic.Pointer[zap.Logger]

// Init builds a console (development) or JSON logger and installs it as the
// zap global.
func Init(opts Options) error {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	if opts.Level != "" {
		lvl, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l, flushing the logger it replaces. Tests pass an observer core.
func Set(l *zap.Logger) {
	zap.ReplaceGlobals(l)
	if prev := current.Swap(l); prev != nil {
		_ = prev.Sync()
	}
}

// Log falls back to the zap global before Init.
func Log() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return zap.L()
}

func S() *zap.SugaredLogger {
	return Log().Sugar()
}

// Session scopes Log to one tracking session.
func Session(id string) *zap.Logger {
	return Log().With(zap.String("session", id))
}

func Sync() {
	if l := current.Load(); l != nil {
		_ = l.Sync()
	}
}
