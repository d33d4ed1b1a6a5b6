package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/model"
)

// ErrUnknownDriver is returned by Open for an unsupported storage driver.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Row is one persisted candle.
type Row struct {
	Venue      string
	Instrument string
	Timeframe  model.Timeframe
	Candle     model.Candle
}

// RowsFor tags candles with the key they belong to.
func RowsFor(key model.SubscriptionKey, candles []model.Candle) []Row {
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{Venue: key.Venue, Instrument: key.Instrument, Timeframe: key.Timeframe, Candle: c}
	}
	return rows
}

// CandleStore persists candles.
type CandleStore interface {
	// EnsureSchema creates the candles table if it does not exist.
	EnsureSchema(ctx context.Context) error
	// UpsertCandles writes rows, replacing existing rows with the same key
	// and open time. It returns the number of rows written.
	UpsertCandles(ctx context.Context, rows []Row) (int, error)
	// Candles returns up to limit of the newest candles for key, oldest first.
	Candles(ctx context.Context, key model.SubscriptionKey, limit int) ([]model.Candle, error)
	Close() error
}

// Open creates the store selected by cfg.Driver and ensures its schema.
// The "none" driver returns a nil store and no error.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (CandleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store CandleStore
		err   error
	)
	switch cfg.Driver {
	case "", "none":
		logger.Info("candle storage disabled")
		return nil, nil
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.Postgres)
	case "sqlite":
		store, err = NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("candle storage ready", "driver", cfg.Driver)
	return store, nil
}
