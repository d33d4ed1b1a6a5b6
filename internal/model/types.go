package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrUnknownTimeframe is returned when a timeframe is outside the supported set.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// -----------------------------------------------------------------------------
// Price Types
// -----------------------------------------------------------------------------

// Candle is one OHLCV bar for a fixed time bucket starting at OpenTime.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Valid reports whether all prices are finite and positive and the range is sane.
func (c Candle) Valid() bool {
	if c.OpenTime.IsZero() {
		return false
	}
	for _, p := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !ValidPrice(p) {
			return false
		}
	}
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
		return false
	}
	return c.High >= c.Low
}

// Tick is a single trade print. It is never stored; it updates the last candle.
type Tick struct {
	Price     float64
	Volume    *float64 // nil when the feed did not carry a volume
	Timestamp time.Time
}

// ValidPrice reports whether p is finite and strictly positive.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// -----------------------------------------------------------------------------
// Timeframes
// -----------------------------------------------------------------------------

// Timeframe is a candle granularity from a fixed enumerated set.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe3m:  3 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
}

// ParseTimeframe parses s (case-insensitive) into a supported Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// Valid reports whether tf belongs to the supported set.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bar interval, or 0 for an unsupported timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string {
	return string(tf)
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

// SubscriptionKey identifies what the stream should currently deliver.
type SubscriptionKey struct {
	Instrument string    `json:"instrument"`
	Timeframe  Timeframe `json:"timeframe"`
	Venue      string    `json:"venue"`
}

// IsZero reports whether no instrument has been selected.
func (k SubscriptionKey) IsZero() bool {
	return k.Instrument == ""
}

// String renders the key as VENUE:INSTRUMENT@TIMEFRAME.
func (k SubscriptionKey) String() string {
	if k.Venue == "" {
		return k.Instrument + "@" + string(k.Timeframe)
	}
	return k.Venue + ":" + k.Instrument + "@" + string(k.Timeframe)
}

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState is the lifecycle state of the streaming transport.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

var connectionStateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Failed:       "failed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return connectionStateNames[s]
}

// MarshalText renders the state name in JSON snapshots.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
