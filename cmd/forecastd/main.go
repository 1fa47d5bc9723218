package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/gfs-forecast-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/gfs-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/gfs-forecast-service/internal/adapter/nomads"
	"github.com/couchcryptid/gfs-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/gfs-forecast-service/internal/bulletin"
	"github.com/couchcryptid/gfs-forecast-service/internal/cache"
	"github.com/couchcryptid/gfs-forecast-service/internal/config"
	"github.com/couchcryptid/gfs-forecast-service/internal/cycle"
	"github.com/couchcryptid/gfs-forecast-service/internal/dataset"
	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
	"github.com/couchcryptid/gfs-forecast-service/internal/filestore"
	"github.com/couchcryptid/gfs-forecast-service/internal/forecast"
	"github.com/couchcryptid/gfs-forecast-service/internal/grid"
	"github.com/couchcryptid/gfs-forecast-service/internal/modelrun"
	"github.com/couchcryptid/gfs-forecast-service/internal/observability"
	"github.com/couchcryptid/gfs-forecast-service/internal/pipeline"
	"github.com/couchcryptid/gfs-forecast-service/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, err := filestore.New(cfg.CacheDir, cfg.FileMaxAge, clock)
	if err != nil {
		logger.Error("failed to open file store", "error", err)
		os.Exit(1)
	}

	ledger := openLedger(cfg, logger)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		BatchSize:         cfg.RequestBatchSize,
		BatchPause:        cfg.RequestBatchPause,
		BackoffBase:       cfg.BackoffBase,
		BackoffMax:        cfg.BackoffMax,
	}, clock)
	client := nomads.NewClient(nomads.Config{
		BaseURL:      cfg.NomadsBaseURL,
		FilterURL:    cfg.NomadsFilterURL,
		MinGribBytes: cfg.MinGribBytes,
	}, limiter, logger, metrics)

	prober := cycle.NewProber(client, cfg.TestStationID, cfg.PublishDelay, clock, logger, metrics)
	regional := dataset.NewBuilder(store, client, grid.Wgrib2{Bin: cfg.Wgrib2Path}, dataset.Options{
		Hours:                  cfg.ForecastHours(),
		Workers:                cfg.DownloadWorkers,
		Attempts:               cfg.DownloadAttempts,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}, logger, metrics)
	bulletins := bulletin.NewLoader(client, store, cfg.LocalTimezone, clock, logger, metrics)
	builder := modelrun.NewBuilder(cfg.Regions, cfg.BulletinStations, regional, bulletins, clock, logger, metrics)

	var (
		publisher pipeline.Publisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("run events enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("run events disabled")
	}

	handle := modelrun.NewHandle()
	orch := pipeline.New(handle, prober, builder, cycle.NewTracker(ledger, cfg.MaxCycleAttempts, clock), store, publisher,
		pipeline.Options{PollInterval: cfg.PollInterval}, clock, logger, metrics)

	forecastCache := provideCache(cfg, clock, logger)
	forecasts := forecast.NewService(orch, grid.NewExtractor(logger, metrics), forecastCache, cfg.CacheTTL, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, orch, orch, forecasts, cfg.LocalTimezone, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start model run orchestration.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("orchestrator did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := ledger.Close(); err != nil {
		logger.Error("ledger close error", "error", err)
	}
	if err := forecastCache.Close(); err != nil {
		logger.Error("forecast cache close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openLedger uses sqlite when LEDGER_DB_PATH is set so attempt counts
// survive restarts, and memory otherwise.
func openLedger(cfg *config.Config, logger *slog.Logger) cycle.Ledger {
	if cfg.LedgerDBPath == "" {
		return cycle.NewMemoryLedger()
	}
	ledger, err := sqlite.Open(cfg.LedgerDBPath)
	if err != nil {
		logger.Error("failed to open attempt ledger, using memory", "path", cfg.LedgerDBPath, "error", err)
		return cycle.NewMemoryLedger()
	}
	logger.Info("attempt ledger enabled", "path", cfg.LedgerDBPath)
	return ledger
}

// provideCache returns the configured forecast cache, falling back to
// memory when Valkey is unreachable.
func provideCache(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) cache.Cache[domain.Forecast] {
	if cfg.CacheBackend == "valkey" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		client, err := cache.Dial(ctx, cfg.ValkeyAddr)
		if err != nil {
			logger.Error("valkey unavailable, falling back to memory cache", "error", err)
		} else {
			logger.Info("valkey forecast cache enabled", "addr", cfg.ValkeyAddr)
			return cache.NewValkey[domain.Forecast](client, "gfs")
		}
	}
	return cache.NewMemory[domain.Forecast](cfg.CacheSize, clock)
}
