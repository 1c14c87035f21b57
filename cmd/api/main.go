package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avolkov/stockroom-backend/api/routes"
	"github.com/avolkov/stockroom-backend/internal/imports"
	"github.com/avolkov/stockroom-backend/internal/ingest"
	"github.com/avolkov/stockroom-backend/internal/stock"
	"github.com/avolkov/stockroom-backend/pkg/config"
	"github.com/avolkov/stockroom-backend/pkg/db"
	"github.com/avolkov/stockroom-backend/pkg/logger"
	"github.com/avolkov/stockroom-backend/pkg/metrics"
	"github.com/avolkov/stockroom-backend/pkg/migrate"
	"github.com/avolkov/stockroom-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	stockRepo := stock.NewRepository(dbClient.DB())
	stockService, err := stock.NewService(dbClient, stockRepo, cfg.Stock, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}

	extractor := ingest.NewExtractor(cfg.Imports, logg, pipelineMetrics)
	sessions := imports.NewSessionStore(redisClient, cfg.Imports.SessionTTL)
	importService, err := imports.NewService(
		dbClient,
		imports.NewRepository(dbClient.DB()),
		stockRepo,
		stockService,
		sessions,
		extractor,
		cfg.Imports,
		logg,
		pipelineMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create import service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbClient,
			RedisPinger:   redisClient,
			ImportService: importService,
			StockService:  stockService,
			Gatherer:      prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
