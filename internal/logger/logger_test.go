package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesServiceAndKeyvals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap("billing-engine", zap.New(core))

	log.Info("renewal succeeded", "subscription_id", "sub_1", "amount", "29.99")
	log.With("run_id", "r1").Warn("lease unavailable")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "renewal succeeded", entries[0].Message)
	assert.Equal(t, "billing-engine", entries[0].ContextMap()["service"])
	assert.Equal(t, "sub_1", entries[0].ContextMap()["subscription_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "r1", entries[1].ContextMap()["run_id"])
}

func TestNewWithLevelFallsBackOnUnknownLevel(t *testing.T) {
	log := NewWithLevel("svc", "chatty")
	assert.NotNil(t, log)
	assert.False(t, log.sugar.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.sugar.Desugar().Core().Enabled(zapcore.InfoLevel))
}

func TestNewNopDiscards(t *testing.T) {
	log := NewNop()
	log.Error("ignored", "k", "v")
	assert.NoError(t, log.Sync())
}
