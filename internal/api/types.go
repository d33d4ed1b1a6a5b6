package api

import (
	"encoding/json"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/protocol"
)

// CandlesRequest configures a GetCandles request.
type CandlesRequest struct {
	Instrument string
	Timeframe  model.Timeframe
	Venue      string
	MaxPoints  int
}

// CandlesResponse from GET /candles
type CandlesResponse struct {
	Success *bool       `json:"success"` // nil when the field is absent
	Message string      `json:"message"`
	Candles []APICandle `json:"candles"`
}

// OK reports whether success was present and true.
func (r *CandlesResponse) OK() bool {
	return r.Success != nil && *r.Success
}

// APICandle represents one bar from the endpoint. Field names vary between
// deployments; UnmarshalJSON resolves the known aliases.
type APICandle struct {
	Time   protocol.Time
	Open   protocol.Number
	High   protocol.Number
	Low    protocol.Number
	Close  protocol.Number
	Volume protocol.Number
}

type apiCandleWire struct {
	Time      protocol.Time   `json:"time"`
	Start     protocol.Time   `json:"start"`
	Timestamp protocol.Time   `json:"timestamp"`
	Open      protocol.Number `json:"open"`
	High      protocol.Number `json:"high"`
	Low       protocol.Number `json:"low"`
	Close     protocol.Number `json:"close"`
	Volume    protocol.Number `json:"volume"`
	Vol       protocol.Number `json:"vol"`
}

// UnmarshalJSON picks the first present of time/start/timestamp and
// volume/vol.
func (c *APICandle) UnmarshalJSON(data []byte) error {
	var w apiCandleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.Time = w.Time
	if c.Time.IsZero() {
		c.Time = w.Start
	}
	if c.Time.IsZero() {
		c.Time = w.Timestamp
	}
	c.Open, c.High, c.Low, c.Close = w.Open, w.High, w.Low, w.Close
	c.Volume = w.Volume
	if !c.Volume.Valid {
		c.Volume = w.Vol
	}
	return nil
}

// Complete reports whether the timestamp and all four prices were present.
func (c APICandle) Complete() bool {
	return !c.Time.IsZero() && c.Open.Valid && c.High.Valid && c.Low.Valid && c.Close.Valid
}

// ToModel converts the wire candle. A missing volume becomes 0.
func (c APICandle) ToModel() model.Candle {
	return model.Candle{
		OpenTime: c.Time.Time,
		Open:     c.Open.Value,
		High:     c.High.Value,
		Low:      c.Low.Value,
		Close:    c.Close.Value,
		Volume:   c.Volume.Or(0),
	}
}
