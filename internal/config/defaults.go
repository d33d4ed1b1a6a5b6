package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://localhost:8000/api/v1"
	DefaultAPITimeout           = 10 * time.Second
	DefaultMaxRetries           = 2
	DefaultRetryDelay           = 2 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStreamBufferSize     = 4096
	DefaultMaxMessageBytes      = 1 << 20
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultUnsubscribeWait      = 100 * time.Millisecond
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	MaxReconnectAttemptsLimit   = 30
	DefaultMaxReconnectDelay    = 60 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultMaxPoints            = 500
	DefaultLoadTimeout          = 45 * time.Second
	DefaultStateHistory         = 20
	DefaultTimeframe            = "1m"
	DefaultVenue                = "xnys"
	DefaultStorageDriver        = "none"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultPollInterval         = 5 * time.Minute
	DefaultPollConcurrency      = 4
	DefaultPollTimeout          = 45 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// applyDefaults fills zero values. MaxRetries and MaxReconnectAttempts stay
// nil when unset so an explicit 0 survives; read them through Retries and
// ReconnectAttempts.
func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.RetryDelay == 0 {
		c.API.RetryDelay = DefaultRetryDelay
	}

	// Stream defaults
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}
	if c.Stream.MaxMessageBytes == 0 {
		c.Stream.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Stream.SubscribeTimeout == 0 {
		c.Stream.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Stream.UnsubscribeWait == 0 {
		c.Stream.UnsubscribeWait = DefaultUnsubscribeWait
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.MaxReconnectDelay == 0 {
		c.Stream.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.Stream.IdleTimeout == 0 {
		c.Stream.IdleTimeout = DefaultIdleTimeout
	}

	// Sync defaults
	if c.Sync.MaxPoints == 0 {
		c.Sync.MaxPoints = DefaultMaxPoints
	}
	if c.Sync.LoadTimeout == 0 {
		c.Sync.LoadTimeout = DefaultLoadTimeout
	}
	if c.Sync.StateHistory == 0 {
		c.Sync.StateHistory = DefaultStateHistory
	}

	// Instrument defaults
	if c.Instruments.DefaultVenue == "" {
		c.Instruments.DefaultVenue = DefaultVenue
	}
	for i := range c.Charts {
		if c.Charts[i].Timeframe == "" {
			c.Charts[i].Timeframe = DefaultTimeframe
		}
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	applyDBDefaults(&c.Storage.Postgres)
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = DefaultBatchSize
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = DefaultFlushInterval
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = DefaultBufferSize
	}

	// Poller defaults. Interval 0 is meaningful (disabled), so only a
	// missing poller section picks up the default interval.
	if c.Poller == (PollerConfig{}) {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
