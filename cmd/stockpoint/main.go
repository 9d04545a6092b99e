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

	"github.com/stockpoint/stockpoint/internal/app"
	"github.com/stockpoint/stockpoint/internal/catalog"
	"github.com/stockpoint/stockpoint/internal/ledger"
	"github.com/stockpoint/stockpoint/internal/locations"
	"github.com/stockpoint/stockpoint/internal/observability"
	"github.com/stockpoint/stockpoint/internal/orders"
	"github.com/stockpoint/stockpoint/internal/platform/cache"
	"github.com/stockpoint/stockpoint/internal/platform/db"
	"github.com/stockpoint/stockpoint/internal/shared"
	"github.com/stockpoint/stockpoint/internal/transfers"
	"github.com/stockpoint/stockpoint/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, on-hand cache disabled", slog.Any("error", err))
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
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ledgerRepo := ledger.NewRepository(pool)
	onHandCache := ledger.NewOnHandCache(redisClient, cfg.OnHandTTL)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotencyStore, onHandCache, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	catalogRepo := catalog.NewRepository(pool)
	locationRepo := locations.NewRepository(pool)
	locationsHandler := locations.NewHandler(logger, locationRepo)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, catalogRepo, ledgerService, auditLogger, idempotencyStore, nil)
	ordersHandler := orders.NewHandler(logger, ordersService)

	transfersRepo := transfers.NewRepository(pool)
	transfersService := transfers.NewService(transfersRepo, catalogRepo, ledgerService, auditLogger, idempotencyStore, nil)
	transfersHandler := transfers.NewHandler(logger, transfersService)

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
		OrdersHandler:    ordersHandler,
		TransfersHandler: transfersHandler,
		LedgerHandler:    ledgerHandler,
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
