package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/botica-pos/botica/internal/app"
	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/masterdata/locations"
	"github.com/botica-pos/botica/internal/masterdata/products"
	"github.com/botica-pos/botica/internal/observability"
	"github.com/botica-pos/botica/internal/platform/cache"
	"github.com/botica-pos/botica/internal/platform/db"
	"github.com/botica-pos/botica/internal/returns"
	"github.com/botica-pos/botica/internal/shared"
	"github.com/botica-pos/botica/internal/transfer"
	"github.com/botica-pos/botica/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryRepo := inventory.NewRepository(pool)
	aggregateView := inventory.NewAggregateView(inventoryRepo, redisClient, cfg.StockCacheTTL, logger)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, aggregateView, metrics)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, auditLogger, idempotencyStore, aggregateView)
	transferHandler := transfer.NewHandler(logger, transferService)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(returnsRepo, auditLogger, approvalRecorder, aggregateView)
	returnsHandler := returns.NewHandler(logger, returnsService)

	productsService := products.NewService(products.NewRepository(pool))
	productsHandler := products.NewHandler(logger, productsService)

	locationsService := locations.NewService(locations.NewRepository(pool))
	locationsHandler := locations.NewHandler(logger, locationsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventoryHandler,
		TransferHandler:  transferHandler,
		ReturnsHandler:   returnsHandler,
		ProductsHandler:  productsHandler,
		LocationsHandler: locationsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
