package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/marketsync/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.Retries() < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	if c.API.PriceMin < 0 || c.API.PriceMax < 0 {
		return errors.New("api.price_min and api.price_max must be >= 0")
	}
	if c.API.PriceMax > 0 && c.API.PriceMin > c.API.PriceMax {
		return fmt.Errorf("api.price_min (%g) cannot exceed api.price_max (%g)", c.API.PriceMin, c.API.PriceMax)
	}

	if c.Stream.URL == "" {
		return errors.New("stream.url is required")
	}
	if n := c.Stream.ReconnectAttempts(); n < 0 || n > MaxReconnectAttemptsLimit {
		return fmt.Errorf("stream.max_reconnect_attempts must be between 0 and %d, got %d", MaxReconnectAttemptsLimit, n)
	}
	if c.Stream.ReconnectBaseDelay < 0 || c.Stream.MaxReconnectDelay < 0 {
		return errors.New("stream.reconnect_base_delay and stream.max_reconnect_delay must be >= 0")
	}
	if c.Stream.MaxReconnectDelay > 0 && c.Stream.ReconnectBaseDelay > c.Stream.MaxReconnectDelay {
		return fmt.Errorf("stream.reconnect_base_delay (%v) cannot exceed stream.max_reconnect_delay (%v)",
			c.Stream.ReconnectBaseDelay, c.Stream.MaxReconnectDelay)
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}

	if c.Sync.MaxPoints < 1 {
		return errors.New("sync.max_points must be >= 1")
	}
	// A shorter load timeout would cut the API client's retries short.
	budget := c.API.RequestBudget()
	if c.Sync.LoadTimeout < budget {
		return fmt.Errorf("sync.load_timeout (%v) must cover the api retry budget (%v)", c.Sync.LoadTimeout, budget)
	}

	seen := make(map[string]bool, len(c.Charts))
	for i, ch := range c.Charts {
		if _, err := model.ParseTimeframe(ch.Timeframe); err != nil {
			return fmt.Errorf("charts[%d].timeframe: %w", i, err)
		}
		if ch.ID == "" {
			continue
		}
		if seen[ch.ID] {
			return fmt.Errorf("charts[%d].id %q is duplicated", i, ch.ID)
		}
		seen[ch.ID] = true
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Poller.Interval < 0 {
		return errors.New("poller.interval must be >= 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.Interval > 0 && c.Poller.Timeout < budget {
		return fmt.Errorf("poller.timeout (%v) must cover the api retry budget (%v)", c.Poller.Timeout, budget)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case "none":
		return nil
	case "postgres":
		if err := s.Postgres.validate("storage.postgres"); err != nil {
			return err
		}
	case "sqlite":
		if s.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of none, postgres, sqlite, got %q", s.Driver)
	}

	if s.BatchSize < 1 {
		return errors.New("storage.batch_size must be >= 1")
	}
	if s.BufferSize < 1 {
		return errors.New("storage.buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
