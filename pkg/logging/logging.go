package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a development zap logger on stderr and exposes it as a logr.Logger.
//
// Levels in logr correspond to the inverse zap level: V(1) is zap's DebugLevel.
// r.Log.Info() is INFO, r.Log.V(1).Info() is DEBUG and only shows when debug is set.
// The returned func flushes buffered entries.
func New(debug bool) (logr.Logger, func(), error) {
	l := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		l = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = l
	cfg.DisableStacktrace = !debug
	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}
