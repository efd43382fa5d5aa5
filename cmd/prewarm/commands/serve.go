package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/prewarm/internal/api"
	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/config"
	"github.com/livinlefevreloca/prewarm/internal/db"
	"github.com/livinlefevreloca/prewarm/internal/history"
	"github.com/livinlefevreloca/prewarm/internal/loader"
	"github.com/livinlefevreloca/prewarm/internal/metrics"
	"github.com/livinlefevreloca/prewarm/internal/monitor"
	"github.com/livinlefevreloca/prewarm/internal/stats"
	"github.com/livinlefevreloca/prewarm/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the prefetch API server",
	Long: `Run the HTTP API that drives trigger points, plus the Prometheus
metrics listener.

Examples:
  # Serve with a config file
  prewarm serve --config /etc/prewarm/prewarm.toml

  # Override settings from the environment
  PREWARM_LOGGING_LEVEL=debug PREWARM_HTTP_PORT=8081 prewarm serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting prewarm", "version", Version, "config_file", cfgFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	// Open database connection with pool settings
	logger.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if !cfg.Database.SkipMigrations {
		if err := database.Migrate(logger); err != nil {
			return err
		}
	} else {
		logger.Info("skipping migrations", "reason", "configured to skip")
	}

	app, err := build(cfg, database, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if cfg.HTTP.Enabled {
		server := api.NewServer("api", cfg.HTTP.Addr(), api.NewRouter(app.handler), logger)
		g.Go(func() error { return server.Start(gctx) })
	}
	if cfg.Metrics.Enabled {
		server := api.NewServer("metrics", cfg.Metrics.Addr(), metrics.Handler(app.gatherer), logger)
		g.Go(func() error { return server.Start(gctx) })
	}

	logger.Info("prewarm is running", "targets", len(cfg.Targets))
	serveErr := g.Wait()

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(shutdownCtx, logger)

	return serveErr
}

// app holds the components serve wires together
type app struct {
	handler  *api.Handler
	gatherer prometheus.Gatherer
	hub      *api.Hub
	recorder *history.Recorder
	stats    *stats.StatsCollector
}

// build wires the loader registry, interceptors, observers and hub
func build(cfg *config.Config, database *db.DB, logger *slog.Logger) (*app, error) {
	clk := clock.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(reg)
	}

	mon := monitor.New(cfg.Monitor, clk, logger)

	// Tracing is outermost so the span covers the other interceptors
	registry := loader.NewRegistry(cfg.Loader, clk, logger)
	registry.Use(telemetry.Interceptor(), m.Interceptor(), mon.Interceptor())
	for _, spec := range cfg.Targets {
		if err := registry.Register(spec); err != nil {
			return nil, err
		}
	}

	hub := api.NewHub(cfg.Prefetch, registry, clk, logger)
	hub.Observe(m)
	hub.RecordLatency(m)

	a := &app{hub: hub, gatherer: reg}
	opts := api.Options{
		Hub:      hub,
		Registry: registry,
		Monitor:  mon,
		History:  database,
		Logger:   logger,
	}

	if cfg.History.Enabled {
		recorder, err := history.NewRecorder(cfg.History, database, logger)
		if err != nil {
			return nil, err
		}
		recorder.Start()
		hub.Observe(recorder)
		a.recorder = recorder
	}

	if cfg.Stats.Enabled {
		collector, err := stats.NewStatsCollector(cfg.Stats, stats.NewDBAdapter(database), clk, logger)
		if err != nil {
			return nil, err
		}
		collector.Start()
		hub.Observe(collector)
		hub.RecordLatency(collector)
		a.stats = collector
		opts.Stats = collector
	}

	a.handler = api.NewHandler(opts)
	return a, nil
}

// shutdown stops coordinators first so their final transitions reach the
// history recorder and stats collector before those flush
func (a *app) shutdown(ctx context.Context, logger *slog.Logger) {
	if err := a.hub.Close(ctx); err != nil {
		logger.Error("failed to stop trigger points", "error", err)
	}
	if a.recorder != nil {
		if err := a.recorder.Shutdown(); err != nil {
			logger.Error("failed to flush history", "error", err)
		}
	}
	if a.stats != nil {
		if err := a.stats.Stop(); err != nil {
			logger.Error("failed to flush stats", "error", err)
		}
	}
}
