package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	channelapp "github.com/channelsync/engine/internal/application/channel"
	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/cache"
	"github.com/channelsync/engine/internal/infrastructure/config"
	"github.com/channelsync/engine/internal/infrastructure/event"
	"github.com/channelsync/engine/internal/infrastructure/logger"
	"github.com/channelsync/engine/internal/infrastructure/persistence"
	"github.com/channelsync/engine/internal/infrastructure/persistence/tenant"
	"github.com/channelsync/engine/internal/infrastructure/provider"
	"github.com/channelsync/engine/internal/infrastructure/scheduler"
	"github.com/channelsync/engine/internal/infrastructure/telemetry"
	"github.com/channelsync/engine/internal/infrastructure/vault"
	"github.com/channelsync/engine/internal/interfaces/http/handler"
	"github.com/channelsync/engine/internal/interfaces/http/middleware"
	"github.com/channelsync/engine/internal/interfaces/http/router"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ChannelSync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// OTEL log export; when enabled the application logger is bridged so
	// every record goes to both the configured output and the collector
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize OTEL logs provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = logsProvider.Shutdown(shutdownCtx)
	}()

	if logsProvider.IsEnabled() {
		bridged, err := telemetry.CreateBridgedLoggerFromConfig(&telemetry.BaseLoggerConfig{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cfg.Log.Output,
		}, logsProvider, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatal("Failed to create bridged logger", zap.Error(err))
		}
		log = bridged
	}

	// Distributed tracing
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     1.0,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	// Metrics
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
	}()

	// Continuous profiling, with span profiles when tracing is also on
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.PyroscopeAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		_ = profiler.Stop()
	}()
	if cfg.Telemetry.ProfilingEnabled && cfg.Telemetry.Enabled {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()
	log.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)

	// Database observability
	if cfg.Telemetry.Enabled {
		tracingPlugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:          true,
			SlowQueryThresh:  200 * time.Millisecond,
			DBSystem:         "postgresql",
			WithoutVariables: true,
		}, log)
		if err := tracingPlugin.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}

		dbMetrics, err := telemetry.NewDBMetrics(meterProvider.Meter("channelsync.db"), telemetry.DefaultDBMetricsConfig(), log)
		if err != nil {
			log.Warn("Failed to initialize database metrics", zap.Error(err))
		} else {
			if sqlDB, err := db.DB.DB(); err == nil {
				dbMetrics.SetSQLDB(sqlDB)
				dbMetrics.StartPoolStatsCollection(ctx)
			}
			if err := db.DB.Use(telemetry.NewDBMetricsPlugin(dbMetrics, log)); err != nil {
				log.Warn("Failed to register database metrics plugin", zap.Error(err))
			}
			defer dbMetrics.Stop()
		}
	}

	// Tenant filter callbacks: any query carrying tenant context gets a
	// tenant_id condition unless one is already present
	tenant.NewTenantCallback("tenant_id", false).RegisterCallbacks(db.DB)

	// Lease and idempotency stores; Redis when reachable, in-memory in
	// development when it is not
	var (
		leases  shared.LeaseStore
		applied shared.IdempotencyStore
	)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	pingErr := redisClient.Ping(pingCtx).Err()
	cancelPing()
	if pingErr != nil {
		if cfg.App.Env == "production" {
			log.Fatal("Failed to connect to Redis", zap.Error(pingErr))
		}
		log.Warn("Redis unreachable, using in-memory lease and idempotency stores",
			zap.Error(pingErr),
		)
		leases = cache.NewInMemoryLeaseStore()
		applied = cache.NewInMemoryIdempotencyStore()
	} else {
		log.Info("Redis connection established",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port),
		)
		leases = cache.NewRedisLeaseStore(redisClient, "channelsync")
		applied = cache.NewRedisIdempotencyStore(redisClient, "channelsync")
		defer func() {
			_ = redisClient.Close()
		}()
	}

	// Provider adapters
	registry := buildAdapterRegistry(cfg, log)

	// Credential vault
	vaultKey, err := cfg.Vault.Key()
	if err != nil {
		if cfg.App.Env == "production" {
			log.Fatal("Invalid vault master key", zap.Error(err))
		}
		// Ephemeral key: sealed credentials do not survive a restart
		vaultKey = make([]byte, 32)
		if _, err := rand.Read(vaultKey); err != nil {
			log.Fatal("Failed to generate ephemeral vault key", zap.Error(err))
		}
		log.Warn("vault.master_key not configured, using ephemeral key",
			zap.String("hint", "set CHANNELSYNC_VAULT_MASTER_KEY to a 32-byte hex key"),
		)
	}
	credVault, err := vault.NewSealedVault(db.DB, vaultKey, registry, log)
	if err != nil {
		log.Fatal("Failed to initialize credential vault", zap.Error(err))
	}

	// Repositories
	connRepo := persistence.NewGormConnectionRepository(db.DB)
	jobRepo := persistence.NewGormSyncJobRepository(db.DB)
	stateRepo := persistence.NewGormSyncStateRepository(db.DB)

	// Domain event bus
	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(event.NewActivityLogger(log))
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Stop(shutdownCtx)
	}()

	// Scheduler and worker pool
	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter("channelsync.sync"), log)
	if err != nil {
		log.Fatal("Failed to initialize sync metrics", zap.Error(err))
	}
	executor := scheduler.NewSyncExecutor(connRepo, jobRepo, stateRepo, credVault, registry, applied, log)
	sched := scheduler.NewSyncScheduler(cfg.Sync, executor, connRepo, jobRepo, leases, bus, syncMetrics, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("Sync scheduler shutdown error", zap.Error(err))
		}
	}()

	// Application services
	connectionService := channelapp.NewConnectionService(connRepo, jobRepo, credVault, registry, bus, log)
	syncService := channelapp.NewSyncService(connRepo, jobRepo, registry, sched, log)
	statsService := channelapp.NewStatsService(connRepo, jobRepo)

	// Timer-driven syncs for connected pairs
	if cfg.Sync.ScheduledInterval > 0 {
		triggerFn := func(ctx context.Context, tenantID uuid.UUID, providerCode channel.ProviderCode, kind channel.SyncKind) error {
			_, err := syncService.TriggerScheduled(ctx, tenantID, providerCode, kind)
			return err
		}
		trigger := scheduler.NewScheduledTrigger(cfg.Sync.ScheduledInterval, connRepo, triggerFn, log)
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduled trigger", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = trigger.Stop(shutdownCtx)
		}()
	}

	// HTTP handlers
	connectionHandler := handler.NewConnectionHandler(connectionService)
	syncHandler := handler.NewSyncHandler(syncService)
	webhookHandler := handler.NewWebhookHandler(syncService)
	statsHandler := handler.NewStatsHandler(statsService)
	systemHandler := handler.NewSystemHandler()

	// Gin engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Failed to set trusted proxies", zap.Error(err))
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(limiter))
	}
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     true,
		}))
		engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: meterProvider,
			ServiceName:   cfg.Telemetry.ServiceName,
			Enabled:       true,
		}))
	}
	if cfg.Telemetry.ProfilingEnabled {
		engine.Use(middleware.ProfilingWithConfig(middleware.DefaultProfilingConfig()))
	}
	engine.Use(middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
		HeaderEnabled: true,
		SkipPaths:     []string{"/health", "/api/v1/ping"},
		Required:      true,
		Logger:        log,
	}))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.TracingAttributes())
	}

	engine.GET("/health", healthHandler(db, log))

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(connectionHandler)
	r.Register(syncHandler)
	r.Register(webhookHandler)
	r.Register(statsHandler)
	r.Register(systemHandler)
	r.Setup()

	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("HTTP server stopped")
}

// buildAdapterRegistry builds the registry over every provider with complete
// OAuth client settings in the configuration. Pairs for unregistered
// providers cannot connect until the provider is configured.
func buildAdapterRegistry(cfg *config.Config, log *zap.Logger) *provider.Registry {
	var adapters []channel.ProviderAdapter

	shopify, err := provider.NewShopifyAdapter(provider.NewShopifyConfig(cfg.Providers.Shopify))
	if err != nil {
		log.Warn("Shopify adapter not registered", zap.Error(err))
	} else {
		adapters = append(adapters, shopify)
		log.Info("Provider adapter registered", zap.String("provider", channel.ProviderShopify.String()))
	}

	return provider.NewRegistry(adapters...)
}

// healthHandler reports process and database health
func healthHandler(db *persistence.Database, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			log.Error("Health check database ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "degraded",
				"database": "down",
				"time":     time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"database": "up",
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}
