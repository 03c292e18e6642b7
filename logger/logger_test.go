package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mabletask/agent/logger"
)

func TestNew_BuildsUsableLogger(t *testing.T) {
	l, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	enriched := l.With(logger.String("page_id", "p-1"))
	assert.NotSame(t, l, enriched)

	enriched.Debug("filtered")
	enriched.Warn("visible", logger.Int("count", 2), logger.Bool("ok", true))
}

func TestNop_WithReturnsSelf(t *testing.T) {
	nop := logger.NewNop()
	assert.Same(t, nop, nop.With(logger.String("k", "v")))
	assert.NoError(t, nop.Sync())
}

func TestFromZap_WritesThroughCore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := logger.FromZap(zap.New(core))

	l.With(logger.String("page_id", "p-1")).Error("agent not configured", logger.Error(assert.AnError))
	l.Debug("below level")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "agent not configured", entries[0].Message)
	assert.Equal(t, "p-1", entries[0].ContextMap()["page_id"])
}
