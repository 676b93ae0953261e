package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/stackwatch/stackwatch/internal/api"
	"github.com/stackwatch/stackwatch/internal/cache"
	"github.com/stackwatch/stackwatch/internal/database"
	"github.com/stackwatch/stackwatch/internal/monitoring"
	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/logging"
	"github.com/stackwatch/stackwatch/pkg/metrics"
	"github.com/stackwatch/stackwatch/pkg/resilience"
)

func main() {
	// Local development convenience; in deployment the environment is set
	// by the platform
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "stackwatch-syncd",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		cancel()
		logger.WithError(err).Error("Database health check failed")
		os.Exit(1)
	}
	cancel()
	logger.Info("Database connection established")

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Cache falls back to the in-process backend when Redis is unreachable
	cacheManager := cache.NewManager(&cfg.Cache, &cfg.Redis, logger).WithMetrics(m)
	defer cacheManager.Close()
	logger.Info("Cache initialized", "backend", cacheManager.Backend())

	repos := database.NewRepositories(db)
	monitor := monitoring.NewService(repos.SyncJobLogs, repos.SyncJobMetrics, repos.Alerts, &cfg.Monitoring, logger).WithMetrics(m)

	registry := resilience.NewRegistry(instrumentPolicies(resilience.DefaultPolicies(), m))

	// Periodic stale-sync detection
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Monitoring.StaleCheckSchedule, func() {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), time.Minute)
		defer checkCancel()
		if err := monitor.CheckStaleSyncs(checkCtx); err != nil {
			logger.WithError(err).Error("Stale sync check run failed")
		}
	}); err != nil {
		logger.WithError(err).Error("Failed to schedule stale sync check")
		os.Exit(1)
	}
	// Connection pool gauges
	if _, err := scheduler.AddFunc("@every 1m", func() {
		stats := db.Stats()
		m.UpdateDatabaseConnections(stats.OpenConnections, stats.Idle, cfg.Database.MaxOpenConns)
	}); err != nil {
		logger.WithError(err).Error("Failed to schedule database stats collection")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(cfg, db, cacheManager, monitor, registry, m, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// instrumentPolicies hooks the per-service breaker and retry callbacks up
// to the prometheus recorders
func instrumentPolicies(policies []resilience.ServicePolicy, m *metrics.Metrics) []resilience.ServicePolicy {
	for i := range policies {
		service := policies[i].Name

		policies[i].Breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
			m.RecordBreakerTransition(name, to.String())
			m.UpdateBreakerState(name, int(to))
		}
		policies[i].Breaker.OnRejection = func(name string, retryAfter time.Duration) {
			m.RecordBreakerRejection(name)
		}
		policies[i].Retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			m.RecordRetryAttempt(service)
		}
	}
	return policies
}
