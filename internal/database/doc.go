// Package database provides candle storage backends.
//
// Two stores implement CandleStore:
//   - PostgresStore: pgx connection pool, batched upserts
//   - SQLiteStore: embedded file database for single-host deployments
//
// Rows are keyed by (venue, instrument, timeframe, open_time). Writing a row
// that already exists replaces its prices, matching how the live series
// replaces a re-delivered candle.
package database
