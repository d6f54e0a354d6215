package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler_Disabled(t *testing.T) {
	profiler, err := NewProfiler(ProfilerConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, profiler.IsEnabled())
	assert.NoError(t, profiler.Stop())
	// Stop is idempotent.
	assert.NoError(t, profiler.Stop())
}

func TestNewProfiler_RequiresServerAddress(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{
		Enabled:         true,
		ApplicationName: "channelsync-engine",
	}, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "server address")
}

func TestNewProfiler_RequiresApplicationName(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{
		Enabled:       true,
		ServerAddress: "http://pyroscope:4040",
	}, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "application name")
}
