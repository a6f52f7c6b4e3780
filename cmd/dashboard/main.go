package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/flightgen/internal/config"
	"github.com/saviobatista/flightgen/internal/dashboard"
	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/db/migrations"
	"github.com/saviobatista/flightgen/internal/launcher"
	"github.com/saviobatista/flightgen/internal/metrics"
	"github.com/saviobatista/flightgen/internal/pipeline"
	"github.com/saviobatista/flightgen/internal/redis"
	"github.com/saviobatista/flightgen/internal/storage"
)

const (
	healthTimeout   = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	retentionEvery  = time.Hour
)

type options struct {
	bootstrap bool
	seed      int64
	count     int
	addr      string
}

func main() {
	bootstrap := flag.Bool("bootstrap", false, "Load one generated run before serving")
	seed := flag.Int64("seed", -1, "Seed for -bootstrap (default SEED)")
	count := flag.Int("n", -1, "Records for -bootstrap (default RECORD_COUNT)")
	addr := flag.String("addr", "", "Listen address (default DASHBOARD_ADDR)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{bootstrap: *bootstrap, seed: *seed, count: *count, addr: *addr}
	if err := run(ctx, opts); err != nil {
		log.Printf("Dashboard failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyOptions(cfg, opts)

	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	client, err := db.New(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := migrations.New(client.DB(), logger).Migrate(ctx, migrations.All()); err != nil {
		return err
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		if cache, err = redis.New(cfg.RedisAddr); err != nil {
			return err
		}
		defer cache.Close()
	}

	m := metrics.New(prometheus.NewRegistry())

	if opts.bootstrap {
		if err := bootstrapRun(ctx, cfg, client, cache, m, logger); err != nil {
			return err
		}
	}

	archive := storage.NewArchive(cfg.OutputDir, logger)
	if cfg.RetentionDays > 0 {
		go archive.RunRetention(ctx, retentionEvery, cfg.Retention())
	}

	var dashCache dashboard.Cache
	if cache != nil {
		dashCache = cache
	}
	return serve(ctx, cfg, client, dashCache, m, logger, func(url string) {
		fmt.Printf("Dashboard running at %s\n", url)
	})
}

// applyOptions lets command line flags override the configuration
func applyOptions(cfg *config.Config, opts options) {
	if opts.seed >= 0 {
		cfg.Seed = opts.seed
	}
	if opts.count >= 0 {
		cfg.RecordCount = opts.count
	}
	if opts.addr != "" {
		cfg.DashboardAddr = opts.addr
	}
}

// bootstrapRun replaces the flights table with one generated run
func bootstrapRun(ctx context.Context, cfg *config.Config, client *db.Client, cache *redis.Client, m *metrics.Metrics, logger *slog.Logger) error {
	d := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithStatsStore(client),
		pipeline.WithSinks(pipeline.NewStoreSink(client, db.ModeReplace)),
	)
	result, err := d.Run(ctx, pipeline.Params{
		Seed:     cfg.Seed,
		BaseTime: cfg.BaseTime,
		Count:    cfg.RecordCount,
		Mode:     pipeline.ModeBuffer,
	})
	if err != nil {
		return fmt.Errorf("bootstrap run failed: %w", err)
	}

	if cache != nil {
		if err := cache.StoreRunSummary(ctx, result.Summary()); err != nil {
			logger.Warn("Failed to cache run summary", "run_id", result.RunID, "error", err)
		}
	}
	return nil
}

// serve runs the dashboard until ctx is done. ready receives the base URL
// once the server answers its health check.
func serve(ctx context.Context, cfg *config.Config, store dashboard.Store, cache dashboard.Cache, m *metrics.Metrics, logger *slog.Logger, ready func(string)) error {
	opts := []dashboard.Option{dashboard.WithMetrics(m)}
	if cache != nil {
		opts = append(opts, dashboard.WithCache(cache, cfg.KPICacheTTL))
	}
	handler := dashboard.New(store, logger, opts...)

	ws, err := storage.NewWorkspace("", "dashboard-"+uuid.NewString())
	if err != nil {
		return err
	}

	l := launcher.New(handler.Router(),
		launcher.WithAddr(cfg.DashboardAddr),
		launcher.WithWorkspace(ws),
		launcher.WithLogger(logger),
	)
	if err := l.Start(ctx); err != nil {
		_ = ws.Close()
		return err
	}

	stop := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return l.Stop(shutdownCtx)
	}

	if err := l.WaitHealthy(ctx, healthTimeout); err != nil {
		_ = stop()
		return err
	}
	ready(l.URL())

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-l.Done():
		if err != nil {
			_ = stop()
			return err
		}
	}
	return stop()
}
