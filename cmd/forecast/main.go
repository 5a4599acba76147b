// Command forecast runs the nitrate forecasting pipeline: it loads the
// configured series, aligns and fills them, runs the rolling evaluation and
// publishes the feature table and report to every configured sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/nitrate-forecast/internal/adapter/file"
	httpadapter "github.com/couchcryptid/nitrate-forecast/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/nitrate-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/nitrate-forecast/internal/adapter/piweb"
	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
	"github.com/couchcryptid/nitrate-forecast/internal/observability"
	"github.com/couchcryptid/nitrate-forecast/internal/pipeline"
	"github.com/couchcryptid/nitrate-forecast/internal/storage/clickhouse"
	"github.com/couchcryptid/nitrate-forecast/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("forecast service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("close error", "error", err)
			}
		}
	}()

	src, srcCloser, err := newSource(cfg, logger, metrics)
	if err != nil {
		return err
	}
	if srcCloser != nil {
		closers = append(closers, srcCloser)
	}

	sinks, sinkClosers, err := newSinks(ctx, cfg, logger)
	closers = append(closers, sinkClosers...)
	if err != nil {
		return err
	}

	m, err := model.New(cfg.ModelFamily, cfg.Model)
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}
	logger.Info("model selected", "family", cfg.ModelFamily, "orders", cfg.Orders.String())

	p := pipeline.New(src, sinks, m, pipeline.OptionsFromConfig(cfg), logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx, cfg.RunInterval) }()

	var result error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case result = <-runErr:
		if result == nil {
			logger.Info("forecast run finished")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return result
}

func newSource(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.SeriesSource, io.Closer, error) {
	switch cfg.SourceKind {
	case config.SourceKafka:
		r := kafkaadapter.NewReader(cfg, logger)
		logger.Info("reading observations from kafka", "topic", cfg.KafkaSourceTopic, "group", cfg.KafkaGroupID)
		return r, r, nil
	case config.SourcePIWeb:
		client := piweb.NewClient(cfg.PIWebURL, cfg.PIWebUser, cfg.PIWebPassword, cfg.PIWebTimeout, cfg.PIWebPageSize, metrics, logger)
		resolver := piweb.NewCachedResolver(client, cfg.PIWebCacheSize, metrics)
		logger.Info("reading series from historian", "url", cfg.PIWebURL, "cache_size", cfg.PIWebCacheSize)
		return piweb.NewSource(client, resolver, cfg.Catalog, cfg.StudyStart, cfg.StudyEnd, logger), nil, nil
	default:
		logger.Info("reading series from file", "path", cfg.InputFile)
		return file.NewSource(cfg.InputFile), nil, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newSinks builds every configured output. Closers are returned even on
// error so already-opened connections are released.
func newSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Sinks, []io.Closer, error) {
	var sinks pipeline.Sinks
	var closers []io.Closer

	if cfg.OutputDir != "" {
		fs, err := file.NewSink(cfg.OutputDir, logger)
		if err != nil {
			return sinks, closers, err
		}
		sinks.Datasets = append(sinks.Datasets, fs)
		sinks.Reports = append(sinks.Reports, fs)
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return sinks, closers, err
		}
		closers = append(closers, conn)
		if err := conn.Migrate(ctx); err != nil {
			return sinks, closers, err
		}
		sinks.Datasets = append(sinks.Datasets, clickhouse.NewFeatureStore(conn))
		logger.Info("feature tables stored in clickhouse")
	}

	if cfg.PostgresURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return sinks, closers, err
		}
		closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))
		if err := pool.Migrate(ctx); err != nil {
			return sinks, closers, err
		}
		sinks.Reports = append(sinks.Reports, postgres.NewReportStore(pool))
		logger.Info("reports stored in postgres")
	}

	if cfg.KafkaSinkEnabled {
		w := kafkaadapter.NewWriter(cfg, logger)
		closers = append(closers, w)
		sinks.Reports = append(sinks.Reports, w)
		logger.Info("forecast rows published to kafka", "topic", cfg.KafkaSinkTopic)
	}
	return sinks, closers, nil
}
