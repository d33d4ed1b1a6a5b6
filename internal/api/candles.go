package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetCandles fetches a window of historical candles.
func (c *Client) GetCandles(ctx context.Context, req CandlesRequest) (*CandlesResponse, error) {
	query := url.Values{}
	query.Set("symbol", req.Instrument)
	query.Set("timeframe", req.Timeframe.String())
	if req.Venue != "" {
		query.Set("exchange", req.Venue)
	}
	if req.MaxPoints > 0 {
		query.Set("limit", strconv.Itoa(req.MaxPoints))
	}

	var resp CandlesResponse
	if err := c.get(ctx, "/candles", query, &resp); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", req.Instrument, err)
	}

	return &resp, nil
}
