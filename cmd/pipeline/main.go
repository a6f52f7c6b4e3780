package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/flightgen/internal/catalog"
	"github.com/saviobatista/flightgen/internal/config"
	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/db/migrations"
	"github.com/saviobatista/flightgen/internal/metrics"
	"github.com/saviobatista/flightgen/internal/nats"
	"github.com/saviobatista/flightgen/internal/pipeline"
	"github.com/saviobatista/flightgen/internal/redis"
	"github.com/saviobatista/flightgen/internal/storage"
)

func main() {
	mode := flag.String("mode", "file", "Where NDJSON is staged: file or buffer")
	compress := flag.Bool("gzip", false, "Compress the archived run file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, *compress, os.Stdout); err != nil {
		log.Printf("Pipeline failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, modeName string, compress bool, stdout io.Writer) error {
	mode, err := pipeline.ParseMode(modeName)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cfg.Logger(stdout)
	slog.SetDefault(logger)

	result, err := runPipeline(ctx, cfg, mode, compress, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Run %s: %d records, %d bytes, %d rows ingested\n",
		result.RunID, len(result.Records), result.Bytes, result.RowCount)
	for _, name := range sortedSinks(result) {
		fmt.Fprintf(stdout, "  %s: %d rows\n", name, result.Sinks[name].Rows)
	}
	return nil
}

// runPipeline wires every configured sink and performs one run
func runPipeline(ctx context.Context, cfg *config.Config, mode pipeline.Mode, compress bool, logger *slog.Logger) (*pipeline.Result, error) {
	m := metrics.New(prometheus.NewRegistry())
	archive := storage.NewArchive(cfg.OutputDir, logger)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithArchive(archive),
	}

	if cfg.DatabaseURL != "" {
		client, err := db.New(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		defer client.Close()

		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if _, err := migrations.New(client.DB(), logger).Migrate(ctx, migrations.All()); err != nil {
			return nil, err
		}

		loadMode, err := db.ParseLoadMode(cfg.LoadMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			pipeline.WithSinks(pipeline.NewStoreSink(client, loadMode)),
			pipeline.WithStatsStore(client),
		)
	}

	cat, err := catalog.Open(cfg.WarehouseDir, cfg.Catalog.Name, logger)
	if err != nil {
		return nil, err
	}
	table, err := cat.EnsureTable(cfg.Catalog.Namespace, cfg.Catalog.Table, catalog.FlightFields)
	if err != nil {
		return nil, err
	}
	opts = append(opts, pipeline.WithSinks(pipeline.NewCatalogSink(table)))

	if cfg.NATSURL != "" {
		client, err := nats.New(cfg.NATSURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
		defer client.Close()
		opts = append(opts, pipeline.WithSinks(pipeline.NewStreamSink(client)))
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache, err = redis.New(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		defer cache.Close()
	}

	result, err := pipeline.New(opts...).Run(ctx, pipeline.Params{
		Seed:     cfg.Seed,
		BaseTime: cfg.BaseTime,
		Count:    cfg.RecordCount,
		Mode:     mode,
	})
	if err != nil {
		return nil, err
	}

	if compress && result.Path != "" {
		if result.Path, err = archive.Compress(result.Path); err != nil {
			return nil, err
		}
	}

	if cache != nil {
		if err := cache.StoreRunSummary(ctx, result.Summary()); err != nil {
			logger.Warn("Failed to cache run summary", "run_id", result.RunID, "error", err)
		}
	}

	if cfg.RetentionDays > 0 {
		removed, err := archive.Prune(cfg.Retention(), time.Now())
		if err != nil {
			logger.Warn("Failed to prune archive", "dir", archive.Dir(), "error", err)
		} else if removed > 0 {
			logger.Info("Pruned archived runs", "removed", removed)
		}
	}

	return result, nil
}

func sortedSinks(result *pipeline.Result) []string {
	names := make([]string, 0, len(result.Sinks))
	for name := range result.Sinks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
