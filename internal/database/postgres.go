package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS candles (
	venue      TEXT             NOT NULL,
	instrument TEXT             NOT NULL,
	timeframe  TEXT             NOT NULL,
	open_time  TIMESTAMPTZ      NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (venue, instrument, timeframe, open_time)
)`

const pgUpsert = `
INSERT INTO candles (venue, instrument, timeframe, open_time, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (venue, instrument, timeframe, open_time) DO UPDATE SET
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	volume = EXCLUDED.volume,
	updated_at = now()`

const pgSelect = `
SELECT open_time, open, high, low, close, volume FROM (
	SELECT open_time, open, high, low, close, volume
	FROM candles
	WHERE venue = $1 AND instrument = $2 AND timeframe = $3
	ORDER BY open_time DESC
	LIMIT $4
) newest ORDER BY open_time`

// PostgresStore stores candles in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(ctx context.Context, cfg config.DBConfig) (*PostgresStore, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create candles table: %w", err)
	}
	return nil
}

// UpsertCandles sends all rows in one pgx.Batch.
func (s *PostgresStore) UpsertCandles(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		c := r.Candle
		batch.Queue(pgUpsert,
			r.Venue, r.Instrument, string(r.Timeframe), c.OpenTime.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return written, fmt.Errorf("upsert candle: %w", err)
		}
		written += int(ct.RowsAffected())
	}
	return written, nil
}

func (s *PostgresStore) Candles(ctx context.Context, key model.SubscriptionKey, limit int) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, pgSelect, key.Venue, key.Instrument, string(key.Timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}

	candles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Candle, error) {
		var c model.Candle
		err := row.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan candles: %w", err)
	}
	return candles, nil
}

// Ping verifies the pool is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
