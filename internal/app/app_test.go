package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/controller"
	"github.com/rickgao/marketsync/internal/model"
)

type nopLoader struct{}

func (nopLoader) Load(ctx context.Context, key model.SubscriptionKey, maxPoints int) ([]model.Candle, error) {
	return nil, nil
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf).Info("hello", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())

	buf.Reset()
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestManagerConfig(t *testing.T) {
	attempts := 7
	mc := ManagerConfig(config.StreamConfig{
		URL:                  "ws://localhost/ws",
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: &attempts,
		IdleTimeout:          time.Minute,
	}, "key")

	assert.Equal(t, "ws://localhost/ws", mc.Client.URL)
	assert.Equal(t, "key", mc.Client.APIKey)
	assert.Equal(t, 2*time.Second, mc.ReconnectBase)
	assert.Equal(t, 7, mc.MaxAttempts)
	assert.Equal(t, connection.DefaultMaxReconnectDelay, mc.MaxDelay)
	assert.Equal(t, time.Minute, mc.IdleTimeout)
	// Unset fields keep the connection defaults.
	assert.Equal(t, 10*time.Second, mc.SubscribeTimeout)
}

func TestManagerConfig_ExplicitZeroAttempts(t *testing.T) {
	zero := 0
	mc := ManagerConfig(config.StreamConfig{
		URL:                  "ws://localhost/ws",
		MaxReconnectDelay:    15 * time.Second,
		MaxReconnectAttempts: &zero,
	}, "")
	assert.Equal(t, 0, mc.MaxAttempts)
	assert.Equal(t, 15*time.Second, mc.MaxDelay)

	mc = ManagerConfig(config.StreamConfig{URL: "ws://localhost/ws"}, "")
	assert.Equal(t, config.DefaultMaxReconnectAttempts, mc.MaxAttempts)
}

func TestControllerConfig(t *testing.T) {
	off := false
	cc := ControllerConfig(config.SyncConfig{MaxPoints: 200, BackfillOnReconnect: &off}, "a", "AAPL", "")

	assert.Equal(t, "a", cc.ID)
	assert.Equal(t, "AAPL", cc.Instrument)
	assert.Equal(t, model.Timeframe1m, cc.Timeframe)
	assert.Equal(t, 200, cc.MaxPoints)
	assert.Equal(t, 45*time.Second, cc.LoadTimeout)
	assert.False(t, cc.BackfillOnReconnect)
}

func TestChartConfigs(t *testing.T) {
	cfg := &config.Config{Charts: []config.ChartConfig{
		{ID: "a", Instrument: "AAPL", Timeframe: "5m"},
		{ID: "b", Instrument: "MSFT"},
	}}
	ccs, err := ChartConfigs(cfg)
	require.NoError(t, err)
	require.Len(t, ccs, 2)
	assert.Equal(t, model.Timeframe5m, ccs[0].Timeframe)
	assert.Equal(t, model.Timeframe1m, ccs[1].Timeframe)

	cfg.Charts[1].Timeframe = "3m"
	_, err = ChartConfigs(cfg)
	assert.ErrorIs(t, err, model.ErrUnknownTimeframe)
}

func TestChartFactory(t *testing.T) {
	cfg := &config.Config{Stream: config.StreamConfig{URL: "ws://localhost/ws"}}
	factory := NewChartFactory(cfg, Deps{Loader: nopLoader{}})

	ch, err := factory(controller.Config{ID: "main", Instrument: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "main", ch.ID())
	assert.Equal(t, model.Disconnected, ch.Snapshot().ConnectionState)

	cfg.Stream.URL = ""
	_, err = factory(controller.Config{ID: "x"})
	assert.Error(t, err)
}

func TestWriterAndPollerConfig(t *testing.T) {
	wc := WriterConfig(config.StorageConfig{BatchSize: 50})
	assert.Equal(t, 50, wc.BatchSize)
	assert.Equal(t, time.Second, wc.FlushInterval)

	pc := PollerConfig(config.PollerConfig{Interval: time.Minute})
	assert.Equal(t, time.Minute, pc.Interval)
	assert.Equal(t, 4, pc.Concurrency)
	assert.True(t, pc.SkipClosed)
}
