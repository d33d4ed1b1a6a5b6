// chartwatch syncs a single chart and prints every update to the console.
// Usage: go run ./cmd/chartwatch --config configs/syncd.yaml --instrument AAPL --timeframe 5m
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/app"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/controller"
	"github.com/rickgao/marketsync/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/syncd.yaml", "path to config file")
	instrument := flag.String("instrument", "", "instrument to watch")
	timeframe := flag.String("timeframe", "1m", "candle timeframe")
	verbose := flag.Bool("verbose", false, "print the last candle as JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *instrument == "" {
		logger.Error("--instrument is required")
		os.Exit(1)
	}
	tf, err := model.ParseTimeframe(*timeframe)
	if err != nil {
		logger.Error("invalid timeframe", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := app.NewAPIClient(cfg.API, logger)
	deps := app.Deps{
		Loader:    app.NewLoader(cfg.API, client, logger),
		Directory: app.NewDirectory(cfg.Instruments, logger),
		Logger:    logger,
	}

	ch, err := app.NewChartFactory(cfg, deps)(controller.Config{ID: "watch", Instrument: *instrument, Timeframe: tf})
	if err != nil {
		logger.Error("failed to build chart", "error", err)
		os.Exit(1)
	}
	ctrl := ch.(*controller.Controller)

	if err := ctrl.Start(ctx); err != nil {
		logger.Error("failed to start chart", "error", err)
		os.Exit(1)
	}

	updates := 0
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			ctrl.Stop(shutdownCtx)
			shutdownCancel()
			printDiagnostics(ctrl.Diagnostics())
			return

		case snap := <-ctrl.Updates():
			updates++
			printSnapshot(snap, *verbose)

		case <-ticker.C:
			logger.Info("stats", "updates", updates)
		}
	}
}

func printSnapshot(snap controller.Snapshot, verbose bool) {
	line := fmt.Sprintf("[%s] %s %s/%s len=%d state=%s",
		time.Now().Format("15:04:05.000"),
		snap.ID, snap.Key.Instrument, snap.Key.Timeframe,
		snap.Len, snap.ConnectionState,
	)
	if snap.Loading {
		line += " loading"
	}
	if !snap.MarketOpen {
		line += " closed"
	}
	if snap.LastError != "" {
		line += " error=" + snap.LastError
	}
	if n := len(snap.Candles); n > 0 {
		last := snap.Candles[n-1]
		line += fmt.Sprintf(" last=%s o=%.4f h=%.4f l=%.4f c=%.4f v=%.2f",
			last.OpenTime.Format(time.RFC3339), last.Open, last.High, last.Low, last.Close, last.Volume)
		fmt.Println(line)
		if verbose {
			data, _ := json.MarshalIndent(last, "  ", "  ")
			fmt.Printf("  %s\n", data)
		}
		return
	}
	fmt.Println(line)
}

func printDiagnostics(d controller.Diagnostics) {
	data, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println("=== diagnostics ===")
	fmt.Println(string(data))
}
