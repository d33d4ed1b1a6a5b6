// Package config loads the marketsync configuration.
//
// Configuration comes from a YAML file with ${VAR} expansion. A .env file in
// the working directory is loaded into the environment first, and a small set
// of MARKETSYNC_* variables override the file after parsing.
package config

import "time"

// Config is the full daemon configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Stream      StreamConfig      `yaml:"stream"`
	Sync        SyncConfig        `yaml:"sync"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Charts      []ChartConfig     `yaml:"charts"`
	Storage     StorageConfig     `yaml:"storage"`
	Poller      PollerConfig      `yaml:"poller"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// APIConfig configures the historical REST endpoint.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"` // Per HTTP attempt
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	PriceMin   float64       `yaml:"price_min"` // 0 disables the lower bound
	PriceMax   float64       `yaml:"price_max"` // 0 disables the upper bound
}

// Retries returns the configured retry count (default DefaultMaxRetries).
// An explicit 0 disables retries.
func (a APIConfig) Retries() int {
	if a.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *a.MaxRetries
}

// RequestBudget is the longest one historical fetch can take: every attempt
// running into Timeout plus the pauses between them.
func (a APIConfig) RequestBudget() time.Duration {
	n := max(a.Retries(), 0)
	return time.Duration(n+1)*a.Timeout + time.Duration(n)*a.RetryDelay
}

// StreamConfig configures the streaming transport and reconnect policy.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	MaxMessageBytes      int64         `yaml:"max_message_bytes"`
	SubscribeTimeout     time.Duration `yaml:"subscribe_timeout"`
	UnsubscribeWait      time.Duration `yaml:"unsubscribe_wait"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
}

// ReconnectAttempts returns the configured attempt limit (default
// DefaultMaxReconnectAttempts). An explicit 0 fails on the first closure.
func (s StreamConfig) ReconnectAttempts() int {
	if s.MaxReconnectAttempts == nil {
		return DefaultMaxReconnectAttempts
	}
	return *s.MaxReconnectAttempts
}

// SyncConfig configures every sync controller.
type SyncConfig struct {
	MaxPoints           int           `yaml:"max_points"`
	LoadTimeout         time.Duration `yaml:"load_timeout"`
	ReuseTransport      bool          `yaml:"reuse_transport"`
	BackfillOnReconnect *bool         `yaml:"backfill_on_reconnect"`
	StateHistory        int           `yaml:"state_history"`
}

// Backfill reports whether to refetch after a reconnect (default true).
func (s SyncConfig) Backfill() bool {
	return s.BackfillOnReconnect == nil || *s.BackfillOnReconnect
}

// InstrumentsConfig configures venue resolution.
type InstrumentsConfig struct {
	DefaultVenue string            `yaml:"default_venue"`
	Venues       map[string]string `yaml:"venues"` // symbol -> MIC
}

// ChartConfig declares one chart started at boot.
type ChartConfig struct {
	ID         string `yaml:"id"`
	Instrument string `yaml:"instrument"`
	Timeframe  string `yaml:"timeframe"`
}

// StorageConfig configures candle persistence.
type StorageConfig struct {
	Driver        string        `yaml:"driver"` // none, postgres, sqlite
	Postgres      DBConfig      `yaml:"postgres"`
	SQLitePath    string        `yaml:"sqlite_path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds connection settings for PostgreSQL.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PollerConfig configures the reconciliation poller.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"` // 0 disables
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	SkipClosed  *bool         `yaml:"skip_closed"`
}

// SkipClosedMarkets reports whether closed markets are skipped (default true).
func (p PollerConfig) SkipClosedMarkets() bool {
	return p.SkipClosed == nil || *p.SkipClosed
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
