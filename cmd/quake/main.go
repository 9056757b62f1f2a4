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

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/quake-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-data-etl/internal/aggregator"
	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
	"github.com/couchcryptid/quake-data-etl/internal/store"
)

const (
	anomalySeenCap = 10000
	anomalySeenTTL = 24 * time.Hour
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

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	agg := aggregator.New(aggregator.NewProviders(cfg.Providers, logger), aggregator.Options{
		Lookback:       cfg.FetchLookback,
		Limit:          cfg.FetchLimit,
		FallbackToMock: cfg.FallbackToMock,
		Geocoder:       geocoder,
	}, metrics, logger)
	events := store.New(agg, metrics, logger)

	ready := readinessChecks{events}
	var (
		notifier pipeline.Notifier
		p        *pipeline.Pipeline
		reader   *kafkaadapter.Reader
		writer   *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled() {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		notifier = pipeline.NewAnomalyNotifier(writer, anomalySeenCap, anomalySeenTTL, clock, metrics, logger)
		applier := pipeline.NewApplier(events, geocoder, metrics, logger)
		p = pipeline.New(reader, applier, notifier, logger, metrics, cfg.BatchSize)
		ready = append(ready, p)
		logger.Info("kafka enabled", "brokers", cfg.KafkaBrokers,
			"updates_topic", cfg.KafkaUpdatesTopic, "anomaly_topic", cfg.KafkaAnomalyTopic)
	} else {
		logger.Info("kafka disabled")
	}

	refresher := pipeline.NewRefresher(events, notifier, clock, cfg.FetchInterval, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, events, ready, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Initial fetch, then periodic refresh when FETCH_INTERVAL is set.
	go func() {
		if err := refresher.Run(ctx); err != nil {
			logger.Error("refresher error", "error", err)
		}
	}()

	// Live update pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// readinessChecks is ready when every member is.
type readinessChecks []interface {
	CheckReadiness(ctx context.Context) error
}

func (rc readinessChecks) CheckReadiness(ctx context.Context) error {
	for _, c := range rc {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
