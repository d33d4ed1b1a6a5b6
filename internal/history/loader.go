// Package history loads the bootstrap window of candles for a subscription
// key and classifies failures as transient or data-invalid.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/series"
)

var (
	// ErrTransient wraps failures that survived the client's retries.
	ErrTransient = errors.New("historical load failed")

	// ErrDataInvalid wraps payloads that retrying cannot fix.
	ErrDataInvalid = errors.New("historical data invalid")
)

// CandleSource is the subset of api.Client the loader needs.
type CandleSource interface {
	GetCandles(ctx context.Context, req api.CandlesRequest) (*api.CandlesResponse, error)
}

// PriceBand bounds acceptable close prices. The zero value disables it.
type PriceBand struct {
	Min float64
	Max float64
}

// Enabled reports whether either bound is set.
func (b PriceBand) Enabled() bool {
	return b.Min > 0 || b.Max > 0
}

// Contains reports whether p lies inside the band.
func (b PriceBand) Contains(p float64) bool {
	if b.Min > 0 && p < b.Min {
		return false
	}
	if b.Max > 0 && p > b.Max {
		return false
	}
	return true
}

// Loader fetches and validates historical candles.
type Loader struct {
	source CandleSource
	band   PriceBand
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(source CandleSource, band PriceBand, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source: source,
		band:   band,
		logger: logger,
	}
}

// Load returns the newest maxPoints candles for key, sorted ascending with
// duplicate open times collapsed.
func (l *Loader) Load(ctx context.Context, key model.SubscriptionKey, maxPoints int) ([]model.Candle, error) {
	if !key.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrDataInvalid, model.ErrUnknownTimeframe, key.Timeframe)
	}

	resp, err := l.source.GetCandles(ctx, api.CandlesRequest{
		Instrument: key.Instrument,
		Timeframe:  key.Timeframe,
		Venue:      key.Venue,
		MaxPoints:  maxPoints,
	})
	if err != nil {
		if api.IsTransient(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransient, key, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDataInvalid, key, err)
	}

	candles, err := l.validate(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataInvalid, key, err)
	}

	out := series.Normalize(candles, maxPoints)
	l.logger.Debug("historical candles loaded",
		"key", key.String(),
		"received", len(resp.Candles),
		"kept", len(out),
	)
	return out, nil
}

func (l *Loader) validate(resp *api.CandlesResponse) ([]model.Candle, error) {
	if !resp.OK() {
		if resp.Message != "" {
			return nil, fmt.Errorf("success flag not set: %s", resp.Message)
		}
		return nil, errors.New("success flag not set")
	}
	if len(resp.Candles) == 0 {
		return nil, errors.New("empty candle list")
	}

	candles := make([]model.Candle, 0, len(resp.Candles))
	for i, wc := range resp.Candles {
		if !wc.Complete() {
			return nil, fmt.Errorf("candle %d: missing time or price", i)
		}
		c := wc.ToModel()
		if !c.Valid() {
			return nil, fmt.Errorf("candle %d at %s: non-finite or inconsistent prices", i, c.OpenTime.Format("2006-01-02T15:04:05Z07:00"))
		}
		if l.band.Enabled() && !l.band.Contains(c.Close) {
			return nil, fmt.Errorf("candle %d close %.4f outside band [%g, %g]", i, c.Close, l.band.Min, l.band.Max)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
