// Package app assembles the sync components from configuration.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/chart"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/controller"
	"github.com/rickgao/marketsync/internal/history"
	"github.com/rickgao/marketsync/internal/instrument"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/writer"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewAPIClient builds the historical REST client.
func NewAPIClient(cfg config.APIConfig, logger *slog.Logger) *api.Client {
	return api.NewClient(
		cfg.RestURL,
		cfg.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.Retries(), cfg.RetryDelay),
	)
}

// NewLoader builds the historical loader over client.
func NewLoader(cfg config.APIConfig, client history.CandleSource, logger *slog.Logger) *history.Loader {
	band := history.PriceBand{Min: cfg.PriceMin, Max: cfg.PriceMax}
	return history.NewLoader(client, band, logger)
}

// NewDirectory builds the venue directory.
func NewDirectory(cfg config.InstrumentsConfig, logger *slog.Logger) *instrument.Directory {
	return instrument.NewDirectory(cfg.Venues, cfg.DefaultVenue, logger)
}

// ManagerConfig maps the stream section onto a connection.ManagerConfig.
func ManagerConfig(cfg config.StreamConfig, apiKey string) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Client.URL = cfg.URL
	mc.Client.APIKey = apiKey
	if cfg.HandshakeTimeout > 0 {
		mc.Client.HandshakeTimeout = cfg.HandshakeTimeout
	}
	if cfg.PingInterval > 0 {
		mc.Client.PingInterval = cfg.PingInterval
	}
	if cfg.PingTimeout > 0 {
		mc.Client.PingTimeout = cfg.PingTimeout
	}
	if cfg.WriteTimeout > 0 {
		mc.Client.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.BufferSize > 0 {
		mc.Client.BufferSize = cfg.BufferSize
	}
	if cfg.MaxMessageBytes > 0 {
		mc.Client.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.SubscribeTimeout > 0 {
		mc.SubscribeTimeout = cfg.SubscribeTimeout
	}
	if cfg.UnsubscribeWait > 0 {
		mc.UnsubscribeWait = cfg.UnsubscribeWait
	}
	if cfg.ReconnectBaseDelay > 0 {
		mc.ReconnectBase = cfg.ReconnectBaseDelay
	}
	if cfg.MaxReconnectDelay > 0 {
		mc.MaxDelay = cfg.MaxReconnectDelay
	}
	mc.MaxAttempts = cfg.ReconnectAttempts()
	mc.IdleTimeout = cfg.IdleTimeout
	return mc
}

// ControllerConfig fills the sync settings into a chart's identity.
func ControllerConfig(cfg config.SyncConfig, id, instrument string, tf model.Timeframe) controller.Config {
	cc := controller.DefaultConfig()
	cc.ID = id
	cc.Instrument = instrument
	if tf != "" {
		cc.Timeframe = tf
	}
	if cfg.MaxPoints > 0 {
		cc.MaxPoints = cfg.MaxPoints
	}
	if cfg.LoadTimeout > 0 {
		cc.LoadTimeout = cfg.LoadTimeout
	}
	if cfg.StateHistory > 0 {
		cc.StateHistory = cfg.StateHistory
	}
	cc.ReuseTransport = cfg.ReuseTransport
	cc.BackfillOnReconnect = cfg.Backfill()
	return cc
}

// ChartConfigs converts the configured charts.
func ChartConfigs(cfg *config.Config) ([]controller.Config, error) {
	out := make([]controller.Config, 0, len(cfg.Charts))
	for i, ch := range cfg.Charts {
		var tf model.Timeframe
		if ch.Timeframe != "" {
			parsed, err := model.ParseTimeframe(ch.Timeframe)
			if err != nil {
				return nil, fmt.Errorf("charts[%d]: %w", i, err)
			}
			tf = parsed
		}
		out = append(out, ControllerConfig(cfg.Sync, ch.ID, ch.Instrument, tf))
	}
	return out, nil
}

// Deps are the shared collaborators of every chart.
type Deps struct {
	Loader    controller.HistoryLoader
	Directory controller.Directory
	Sink      controller.Sink // nil disables persistence
	Logger    *slog.Logger
}

// NewChartFactory returns a chart.Factory that gives every chart its own
// stream connection. Settings the caller left zero come from cfg.Sync.
func NewChartFactory(cfg *config.Config, deps Deps) chart.Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	mc := ManagerConfig(cfg.Stream, cfg.API.APIKey)
	return func(cc controller.Config) (chart.Chart, error) {
		if cfg.Stream.URL == "" {
			return nil, fmt.Errorf("chart %s: stream url not configured", cc.ID)
		}
		full := ControllerConfig(cfg.Sync, cc.ID, cc.Instrument, cc.Timeframe)

		stream := connection.NewManager(mc, deps.Logger.With("chart", cc.ID))

		opts := []controller.Option{controller.WithLogger(deps.Logger)}
		if deps.Directory != nil {
			opts = append(opts, controller.WithDirectory(deps.Directory))
		}
		if deps.Sink != nil {
			opts = append(opts, controller.WithSink(deps.Sink))
		}
		return controller.New(full, deps.Loader, stream, opts...), nil
	}
}

// WriterConfig maps the storage section onto a writer.WriterConfig.
func WriterConfig(cfg config.StorageConfig) writer.WriterConfig {
	wc := writer.DefaultWriterConfig()
	if cfg.BatchSize > 0 {
		wc.BatchSize = cfg.BatchSize
	}
	if cfg.FlushInterval > 0 {
		wc.FlushInterval = cfg.FlushInterval
	}
	if cfg.BufferSize > 0 {
		wc.BufferSize = cfg.BufferSize
	}
	return wc
}

// PollerConfig maps the poller section onto a poller.Config.
func PollerConfig(cfg config.PollerConfig) poller.Config {
	pc := poller.DefaultConfig()
	pc.Interval = cfg.Interval
	if cfg.Concurrency > 0 {
		pc.Concurrency = cfg.Concurrency
	}
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout
	}
	pc.SkipClosed = cfg.SkipClosedMarkets()
	return pc
}
