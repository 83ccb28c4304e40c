// Package log holds the process wide zap logger and carries request scoped
// loggers in contexts.
package log

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(levelFromEnv())
	global = newLogger(false)
)

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LOGLEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(structured bool) *zap.Logger {
	var cfg zap.Config
	if structured {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.LevelKey = "severity"
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Structured switches the global logger to json output
func Structured() {
	l := newLogger(true)
	mu.Lock()
	global = l
	mu.Unlock()
}

// SetLevel changes the level of the global logger and of all loggers derived
// from it.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ReloadLevel re-reads LOGLEVEL from the environment
func ReloadLevel() {
	level.SetLevel(levelFromEnv())
}

// Logger returns the logger carried by ctx, or the global logger
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With returns a context whose logger carries the additional fields
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(ctx).With(fields...))
}
