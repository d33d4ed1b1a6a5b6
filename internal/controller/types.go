package controller

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
)

var (
	ErrStopped      = errors.New("controller stopped")
	ErrNotStarted   = errors.New("controller not started")
	ErrNoInstrument = errors.New("no instrument selected")
	ErrServer       = errors.New("server reported error")
	ErrSuperseded   = errors.New("load superseded by a newer request")
)

// HistoryLoader fetches the bootstrap window for a key.
type HistoryLoader interface {
	Load(ctx context.Context, key model.SubscriptionKey, maxPoints int) ([]model.Candle, error)
}

// Stream is the streaming transport for one key at a time.
type Stream interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Connect(key model.SubscriptionKey) error
	Disconnect()
	Events() <-chan connection.Event
	Stats() connection.Stats
}

// Directory resolves venue codes and trading hours.
type Directory interface {
	ResolveVenueCode(symbol string) string
	MarketOpen(symbol string, t time.Time) bool
}

// Sink receives candles as they enter the series.
type Sink interface {
	Record(key model.SubscriptionKey, candles []model.Candle)
}

// Config configures a Controller.
type Config struct {
	ID                  string
	Instrument          string          // Initial instrument; empty starts idle
	Timeframe           model.Timeframe // Initial timeframe
	MaxPoints           int             // Series cap and historical window
	LoadTimeout         time.Duration   // Per historical load
	ReuseTransport      bool            // Switch keys on the live transport instead of reconnecting
	BackfillOnReconnect bool            // Refetch after Reconnecting -> Connected
	StateHistory        int             // Transitions kept for diagnostics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:           model.Timeframe1m,
		MaxPoints:           500,
		LoadTimeout:         45 * time.Second,
		BackfillOnReconnect: true,
		StateHistory:        20,
	}
}

// Snapshot is a consistent read-only view of a chart.
type Snapshot struct {
	ID              string                `json:"id"`
	Key             model.SubscriptionKey `json:"key"`
	Candles         []model.Candle        `json:"candles,omitempty"`
	Len             int                   `json:"len"`
	ConnectionState model.ConnectionState `json:"connection_state"`
	Loading         bool                  `json:"loading"`
	MarketOpen      bool                  `json:"market_open"`
	LastUpdate      time.Time             `json:"last_update"`
	LastError       string                `json:"last_error,omitempty"`
	Generation      uint64                `json:"generation"`

	Err error `json:"-"`
}

// StateChange is one recorded connection transition.
type StateChange struct {
	State model.ConnectionState `json:"state"`
	At    time.Time             `json:"at"`
	Error string                `json:"error,omitempty"`
}

// Diagnostics exposes counters for manual inspection.
type Diagnostics struct {
	ID         string                `json:"id"`
	Key        model.SubscriptionKey `json:"key"`
	Generation uint64                `json:"generation"`

	Messages        int64 `json:"messages"`
	StaleMessages   int64 `json:"stale_messages"`
	Malformed       int64 `json:"malformed"`
	CandlesMerged   int64 `json:"candles_merged"`
	CandlesLate     int64 `json:"candles_late"`
	CandlesRejected int64 `json:"candles_rejected"`
	TicksApplied    int64 `json:"ticks_applied"`
	TicksDropped    int64 `json:"ticks_dropped"`
	TicksRejected   int64 `json:"ticks_rejected"`
	ServerErrors    int64 `json:"server_errors"`
	Loads           int64 `json:"loads"`
	LoadFailures    int64 `json:"load_failures"`
	StaleLoads      int64 `json:"stale_loads"`
	Reconnects      int64 `json:"reconnects"`
	StaleStates     int64 `json:"stale_states"`

	StateHistory []StateChange    `json:"state_history"`
	Stream       connection.Stats `json:"stream"`
}
