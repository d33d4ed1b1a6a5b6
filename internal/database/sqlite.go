package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rickgao/marketsync/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS candles (
	venue      TEXT    NOT NULL,
	instrument TEXT    NOT NULL,
	timeframe  TEXT    NOT NULL,
	open_time  INTEGER NOT NULL,
	open       REAL    NOT NULL,
	high       REAL    NOT NULL,
	low        REAL    NOT NULL,
	close      REAL    NOT NULL,
	volume     REAL    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (venue, instrument, timeframe, open_time)
)`

const sqliteUpsert = `
INSERT INTO candles (venue, instrument, timeframe, open_time, open, high, low, close, volume, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (venue, instrument, timeframe, open_time) DO UPDATE SET
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume,
	updated_at = excluded.updated_at`

const sqliteSelect = `
SELECT open_time, open, high, low, close, volume FROM (
	SELECT open_time, open, high, low, close, volume
	FROM candles
	WHERE venue = ? AND instrument = ? AND timeframe = ?
	ORDER BY open_time DESC
	LIMIT ?
) ORDER BY open_time`

// SQLiteStore stores candles in an embedded SQLite file. Open times are
// stored as unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("failed to set WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		logger.Warn("failed to set synchronous mode", "error", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create candles table: %w", err)
	}
	return nil
}

// UpsertCandles writes rows in a single transaction.
func (s *SQLiteStore) UpsertCandles(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	written := 0
	for _, r := range rows {
		c := r.Candle
		res, err := stmt.ExecContext(ctx,
			r.Venue, r.Instrument, string(r.Timeframe), c.OpenTime.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume, now)
		if err != nil {
			return 0, fmt.Errorf("upsert candle: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

func (s *SQLiteStore) Candles(ctx context.Context, key model.SubscriptionKey, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect, key.Venue, key.Instrument, string(key.Timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			c  model.Candle
			ms int64
		)
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.OpenTime = time.UnixMilli(ms).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
