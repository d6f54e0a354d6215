package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newGormObserver(level gormlogger.LogLevel) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewGormLogger(zap.New(core), level), logs
}

func TestGormLogger_SuppressesRecordNotFound(t *testing.T) {
	l, logs := newGormObserver(gormlogger.Error)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM channel_connections", 0
	}, gormlogger.ErrRecordNotFound)

	assert.Empty(t, logs.All(), "a missed lookup is not an error")
}

func TestGormLogger_SlowQueryWarns(t *testing.T) {
	l, logs := newGormObserver(gormlogger.Warn)

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT * FROM sync_states", 500
	}, nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestGormLogger_TraceCarriesTenant(t *testing.T) {
	l, logs := newGormObserver(gormlogger.Info)
	ctx, _ := WithTenantID(context.Background(), zap.NewNop(), "tenant-a")

	l.Trace(ctx, time.Now(), func() (string, int64) {
		return "SELECT * FROM sync_jobs", 3
	}, nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tenant-a", entries[0].ContextMap()["tenant_id"])
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("anything"))
}
