package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := context.WithValue(context.Background(), ctxKey{}, zap.New(core))
	ctx = With(ctx, zap.String("invocation", "abc"))
	Logger(ctx).Info("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["invocation"])
}

func TestLoggerFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
	assert.Same(t, Logger(context.Background()), Logger(nil)) //nolint:staticcheck
}

func TestLevelFromEnv(t *testing.T) {
	testfunc := func(env string, expected zapcore.Level) {
		t.Helper()
		t.Setenv("LOGLEVEL", env)
		assert.Equal(t, expected, levelFromEnv())
	}
	testfunc("", zapcore.InfoLevel)
	testfunc("debug", zapcore.DebugLevel)
	testfunc("WARN", zapcore.WarnLevel)
	testfunc("error", zapcore.ErrorLevel)
	testfunc("bogus", zapcore.InfoLevel)
}
