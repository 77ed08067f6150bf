package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/application/service"
	"github.com/damon-houk/fx-rate-pipeline/internal/config"
	"github.com/damon-houk/fx-rate-pipeline/internal/domain/repository"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/api"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/cache"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/handler"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/metrics"
	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	once := flag.Bool("once", false, "run the pipeline a single time and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log := logger.NewJSONLogger(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	logger.SetDefaultLogger(log)

	log.Info("Starting FX rate pipeline", map[string]interface{}{
		"base":       cfg.BaseCurrency,
		"currencies": cfg.Currencies.Codes(),
		"store":      cfg.StoreDriver,
		"schedule":   cfg.ScheduleInterval.String(),
		"rate_limit": cfg.FetchRateLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open rate store", map[string]interface{}{"error": err.Error()})
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	client := api.NewExchangeRateAPIClient(api.ClientConfig{
		BaseURL:           cfg.APIBaseURL,
		Timeout:           cfg.FetchTimeout,
		RequestsPerSecond: cfg.FetchRateLimit,
	}, nil, log)

	latest := cache.NewLatestRateCache()
	latest.SetExpiration(cfg.LatestCacheTTL)
	extractor := service.NewExtractor(cfg.Source, cfg.Location, log, m)
	pipeline := service.NewPipeline(service.PipelineConfig{
		Credential:   cfg.APIKey,
		BaseCurrency: cfg.BaseCurrency,
		Currencies:   cfg.Currencies,
		FetchTimeout: cfg.FetchTimeout,
	}, client, extractor, store, log).WithMetrics(m).WithLatestRates(latest)

	if *once {
		if _, err := pipeline.Run(ctx); err != nil {
			closeStore()
			os.Exit(1)
		}
		return
	}

	go service.NewScheduler(pipeline, cfg.ScheduleInterval, log).Start(ctx)

	// Setup router
	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware, middleware.LoggingMiddleware(log), middleware.MetricsMiddleware(m))
	handler.NewRateHandler(store, latest, cfg.StoreDriver, log).RegisterRoutes(router)
	handler.NewRunHandler(pipeline, log).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	log.Info("Server listening", map[string]interface{}{"port": cfg.Port})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server stopped", map[string]interface{}{"error": err.Error()})
		closeStore()
		os.Exit(1)
	}
	log.Info("Server stopped", nil)
}

// openStore opens the configured backend and returns a close func that is safe to call twice
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.RateStore, func(), error) {
	var closed bool

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPgxPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := db.NewPostgresRateStore(ctx, pool, cfg.DatabaseURL, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() {
			if !closed {
				closed = true
				pool.Close()
			}
		}, nil

	default:
		if err := os.MkdirAll(cfg.BadgerPath, 0755); err != nil {
			return nil, nil, err
		}
		badgerDB, err := db.OpenBadger(cfg.BadgerPath, false)
		if err != nil {
			return nil, nil, err
		}
		store, err := db.NewBadgerRateStore(ctx, badgerDB, log)
		if err != nil {
			badgerDB.Close()
			return nil, nil, err
		}
		return store, func() {
			if closed {
				return
			}
			closed = true
			if err := badgerDB.Close(); err != nil {
				log.Error("Error closing BadgerDB", map[string]interface{}{"error": err.Error()})
			}
		}, nil
	}
}
