package protocol

import (
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// Kind classifies an inbound frame.
type Kind string

const (
	KindCandle       Kind = "candle"
	KindTick         Kind = "tick"
	KindSubscribed   Kind = "subscribed"
	KindUnsubscribed Kind = "unsubscribed"
	KindError        Kind = "error"
	KindHeartbeat    Kind = "heartbeat"
)

// Message is any decoded inbound frame.
type Message interface {
	Kind() Kind
}

// CandleMsg carries a fully formed bar.
type CandleMsg struct {
	Symbol    string // empty when the feed omits it
	Timeframe string
	Candle    model.Candle
}

// TickMsg carries a single trade print.
type TickMsg struct {
	Symbol string
	Tick   model.Tick // Timestamp is zero when the feed omits it
}

// SubscribedMsg acknowledges a subscribe request.
type SubscribedMsg struct {
	Symbols    []string
	Timeframes []string
}

// UnsubscribedMsg acknowledges an unsubscribe request.
type UnsubscribedMsg struct {
	Symbols []string
}

// ErrorMsg is a fault reported by the server.
type ErrorMsg struct {
	Message string
}

// HeartbeatMsg is a keep-alive.
type HeartbeatMsg struct {
	Timestamp time.Time
}

func (CandleMsg) Kind() Kind       { return KindCandle }
func (TickMsg) Kind() Kind         { return KindTick }
func (SubscribedMsg) Kind() Kind   { return KindSubscribed }
func (UnsubscribedMsg) Kind() Kind { return KindUnsubscribed }
func (ErrorMsg) Kind() Kind        { return KindError }
func (HeartbeatMsg) Kind() Kind    { return KindHeartbeat }

// -----------------------------------------------------------------------------
// Wire Types (for JSON unmarshaling)
// -----------------------------------------------------------------------------

type envelope struct {
	Type string `json:"type"`
}

type candleWire struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     Time   `json:"start"`
	Open      Number `json:"open"`
	High      Number `json:"high"`
	Low       Number `json:"low"`
	Close     Number `json:"close"`
	Volume    Number `json:"volume"`
}

type tickWire struct {
	Symbol    string `json:"symbol"`
	Price     Number `json:"price"`
	Volume    Number `json:"volume"`
	Timestamp Time   `json:"timestamp"`
}

type subscribedWire struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
}

type errorWire struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

type heartbeatWire struct {
	Timestamp Time `json:"timestamp"`
}
