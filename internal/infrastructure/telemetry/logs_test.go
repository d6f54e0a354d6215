package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestCreateBridgedLoggerFromConfig_WithoutExport(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	logger, err := CreateBridgedLoggerFromConfig(&BaseLoggerConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z0700",
	}, lp, "channelsync-engine")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		logger.Info("connection established", zap.String("provider", "SHOPIFY"))
	})
}

func TestCreateBridgedLoggerFromConfig_NilProvider(t *testing.T) {
	logger, err := CreateBridgedLoggerFromConfig(&BaseLoggerConfig{
		Level:  "debug",
		Format: "console",
		Output: "stderr",
	}, nil, "channelsync-engine")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestLevelFilterCore_DropsBelowMinLevel(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}
	logger := zap.New(filtered)

	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("also kept")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "also kept", entries[1].Message)
}

func TestLevelFilterCore_WithPreservesMinLevel(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}
	logger := zap.New(filtered).With(zap.String("tenant_id", "t1"))

	logger.Debug("dropped")
	logger.Warn("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "t1", entries[0].ContextMap()["tenant_id"])
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.input), "level %q", tt.input)
	}
}
