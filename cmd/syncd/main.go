package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/app"
	"github.com/rickgao/marketsync/internal/chart"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/server"
	"github.com/rickgao/marketsync/internal/version"
	"github.com/rickgao/marketsync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncd.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("syncd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("syncd stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	store, err := database.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	deps := app.Deps{Logger: logger}

	var candleWriter *writer.CandleWriter
	if store != nil {
		candleWriter = writer.NewCandleWriter(app.WriterConfig(cfg.Storage), store, logger)
		if err := candleWriter.Start(ctx); err != nil {
			return err
		}
		deps.Sink = candleWriter
	}

	client := app.NewAPIClient(cfg.API, logger)
	deps.Loader = app.NewLoader(cfg.API, client, logger)
	directory := app.NewDirectory(cfg.Instruments, logger)
	deps.Directory = directory

	registry := chart.NewRegistry(app.NewChartFactory(cfg, deps), logger)
	chartConfigs, err := app.ChartConfigs(cfg)
	if err != nil {
		return err
	}
	for _, cc := range chartConfigs {
		if _, err := registry.Add(ctx, cc); err != nil {
			return err
		}
	}
	if err := registry.StartAll(ctx); err != nil {
		return err
	}

	p := poller.New(app.PollerConfig(cfg.Poller), registry, directory, logger)
	if err := p.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *server.Server
	if cfg.Server.Port > 0 {
		gin.SetMode(gin.ReleaseMode)
		srv = server.New(cfg.Server.Port, registry, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	g.Go(func() error {
		return logChanges(gctx, registry, logger)
	})

	logger.Info("syncd running",
		"charts", registry.Len(),
		"storage", cfg.Storage.Driver,
		"http_port", cfg.Server.Port,
	)

	runErr := g.Wait()
	cancel()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Warn("poller stop", "error", err)
	}
	if err := registry.StopAll(shutdownCtx); err != nil {
		logger.Warn("chart stop", "error", err)
	}
	if candleWriter != nil {
		if err := candleWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("writer stop", "error", err)
		}
		stats := candleWriter.Stats()
		logger.Info("writer stopped", "inserts", stats.Inserts, "errors", stats.Errors)
	}

	return runErr
}

// logChanges logs registry additions and removals until ctx is done.
func logChanges(ctx context.Context, registry *chart.Registry, logger *slog.Logger) error {
	changes := registry.SubscribeChanges()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			if ch, ok := registry.Get(c.ID); ok {
				snap := ch.Snapshot()
				logger.Info("chart "+c.EventType, "chart", c.ID, "instrument", snap.Key.Instrument, "timeframe", snap.Key.Timeframe)
				continue
			}
			logger.Info("chart "+c.EventType, "chart", c.ID)
		}
	}
}
