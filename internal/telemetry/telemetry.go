// Package telemetry provides the engine's structured logger, a thin logr wrapper
// around zap.
package telemetry

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log wraps logr.Logger with Info/Debug/Trace verbosity helpers.
type Log struct {
	logr.Logger
}

// New builds a named logger. production selects zap's production (JSON, sampled) config
// versus its development (console, colorized) config.
func New(name string, production bool) (*Log, error) {
	var zc zap.Config
	if production {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.DisableCaller = true
	zc.DisableStacktrace = true

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Log{Logger: zapr.NewLogger(z).WithName(name)}, nil
}

// NewNop returns a logger that discards everything; the zero value for components that
// accept a nil *Log and skip logging entirely.
func NewNop() *Log {
	return &Log{Logger: logr.Discard()}
}

// Named returns a sub-logger scoped under path.
func (l *Log) Named(path string) *Log {
	if l == nil {
		return NewNop()
	}
	return &Log{Logger: l.WithName(path)}
}

func (l *Log) Info(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.Logger.V(0).WithValues(kv...).Info(msg)
}

func (l *Log) Debug(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.Logger.V(1).WithValues(kv...).Info(msg)
}

func (l *Log) Trace(msg string, kv ...any) {
	if l == nil {
		return
	}
	l.Logger.V(2).WithValues(kv...).Info(msg)
}

func (l *Log) Error(err error, msg string, kv ...any) {
	if l == nil {
		return
	}
	l.Logger.WithValues(kv...).Error(err, msg)
}
