package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls the otelgorm integration.
type DBTracingConfig struct {
	Enabled         bool
	SlowQueryThresh time.Duration
	DBSystem        string
	// WithoutVariables strips bind values from recorded SQL. Stays on in
	// production: statements against the credential vault table would
	// otherwise leak sealed blobs into spans.
	WithoutVariables bool
}

// DBTracingPlugin wraps otelgorm and adds slow query marking on the spans it
// creates.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates the tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm installs otelgorm plus the engine's timing callbacks.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if p.config.WithoutVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := p.registerTimingCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("database tracing enabled",
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

// registerTimingCallbacks stamps the start time before each operation and
// annotates the otelgorm span afterwards.
func (p *DBTracingPlugin) registerTimingCallbacks(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("db_tracing:before_create", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("db_tracing:after_create", p.annotateSpan); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("db_tracing:before_query", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("db_tracing:after_query", p.annotateSpan); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("db_tracing:before_update", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("db_tracing:after_update", p.annotateSpan); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("db_tracing:before_delete", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("db_tracing:after_delete", p.annotateSpan); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("db_tracing:before_row", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("db_tracing:after_row", p.annotateSpan); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("db_tracing:before_raw", stampTraceStart); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("db_tracing:after_raw", p.annotateSpan); err != nil {
		return err
	}

	return nil
}

// annotateSpan adds result attributes to the active span, marks real errors,
// and flags queries past the slow threshold.
func (p *DBTracingPlugin) annotateSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// Record-not-found is routine control flow for the repositories.
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if start, ok := ctx.Value(traceStartKey).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
		}
	}
}

func stampTraceStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, traceStartKey, time.Now())
	}
}

type dbTracingContextKey string

const traceStartKey dbTracingContextKey = "db_tracing_query_start"
