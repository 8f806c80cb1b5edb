package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Delinahwakio/fantooo-dispatch/internal/api/router"
	"github.com/Delinahwakio/fantooo-dispatch/internal/app/bootstrap"
	appconfig "github.com/Delinahwakio/fantooo-dispatch/internal/config"
	"github.com/Delinahwakio/fantooo-dispatch/internal/dispatch"
	"github.com/Delinahwakio/fantooo-dispatch/internal/http/handlers"
	"github.com/Delinahwakio/fantooo-dispatch/internal/observability/metrics"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting fantooo-dispatch API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	pool, err := bootstrap.BuildPGPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	stores := bootstrap.BuildStores(pool, logger)
	queue := bootstrap.BuildQueue(redisClient, logger)
	notifier := bootstrap.BuildNotifier(ctx, cfg, logger)
	dispatchMetrics := metrics.NewDispatchMetrics(nil)

	engine := dispatch.NewEngine(queue, stores.Operators, stores.Chats,
		dispatch.WithLogger(logger.Component("engine")),
		dispatch.WithMetrics(dispatchMetrics),
		dispatch.WithNotifier(notifier),
		dispatch.WithEscalationStore(stores.Escalations),
		dispatch.WithMaxReassignments(cfg.MaxReassignments),
	)
	processor := dispatch.NewProcessor(engine, queue, dispatchMetrics, logger.Component("processor"))

	// Background queue processor.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := processor.Tick(ctx, cfg.MaxAssignmentsPerTick)
				if err != nil {
					logger.Error("queue tick failed", "error", err,
						"processed", stats.Processed, "assigned", stats.Assigned)
				}
			}
		}
	}()

	routerCfg := &router.Config{
		Logger:             logger,
		Dispatch:           handlers.NewDispatchHandler(engine, queue, logger.Component("http")),
		AdminDispatch:      handlers.NewAdminDispatchHandler(stores.Escalations, stores.Operators, logger.Component("admin")),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
