package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
)

var key = model.SubscriptionKey{Instrument: "AAPL", Timeframe: model.Timeframe1m, Venue: "xnas"}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newLoader(url string, band PriceBand) *Loader {
	client := api.NewClient(url, "", api.WithRetries(2, time.Millisecond))
	return NewLoader(client, band, nil)
}

func TestLoad_NormalizesAndTruncates(t *testing.T) {
	server, _ := newServer(t, http.StatusOK, `{"success": true, "candles": [
		{"time": 180, "open": 3, "high": 3, "low": 3, "close": 3},
		{"time": 60,  "open": 1, "high": 1, "low": 1, "close": 1},
		{"time": 120, "open": 2, "high": 2, "low": 2, "close": 2},
		{"time": 120, "open": 2, "high": 5, "low": 2, "close": 4},
		{"time": 240, "open": 4, "high": 4, "low": 4, "close": 4}
	]}`)

	got, err := newLoader(server.URL, PriceBand{}).Load(context.Background(), key, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, time.Unix(120, 0).UTC(), got[0].OpenTime.UTC())
	assert.Equal(t, 4.0, got[0].Close, "duplicate keeps last occurrence")
	assert.Equal(t, time.Unix(240, 0).UTC(), got[2].OpenTime.UTC())
}

func TestLoad_DataInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		band PriceBand
	}{
		{name: "success absent", body: `{"candles": [{"time": 60, "open": 1, "high": 1, "low": 1, "close": 1}]}`},
		{name: "success false", body: `{"success": false, "message": "no data"}`},
		{name: "empty candles", body: `{"success": true, "candles": []}`},
		{name: "missing price", body: `{"success": true, "candles": [{"time": 60, "open": 1, "high": 1, "low": 1}]}`},
		{name: "non-positive price", body: `{"success": true, "candles": [{"time": 60, "open": 0, "high": 1, "low": 1, "close": 1}]}`},
		{
			name: "outside band",
			body: `{"success": true, "candles": [{"time": 60, "open": 50, "high": 50, "low": 50, "close": 50}]}`,
			band: PriceBand{Min: 100, Max: 100000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := newServer(t, http.StatusOK, tt.body)

			_, err := newLoader(server.URL, tt.band).Load(context.Background(), key, 10)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataInvalid), "error = %v", err)
			assert.Equal(t, int32(1), atomic.LoadInt32(hits), "data-invalid must not retry")
		})
	}
}

func TestLoad_BandDisabledByDefault(t *testing.T) {
	server, _ := newServer(t, http.StatusOK,
		`{"success": true, "candles": [{"time": 60, "open": 0.5, "high": 0.6, "low": 0.4, "close": 0.55}]}`)

	got, err := newLoader(server.URL, PriceBand{}).Load(context.Background(), key, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLoad_TransientRetriedThenSurfaced(t *testing.T) {
	server, hits := newServer(t, http.StatusServiceUnavailable, `unavailable`)

	_, err := newLoader(server.URL, PriceBand{}).Load(context.Background(), key, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient), "error = %v", err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits), "1 attempt + 2 retries")
}

func TestLoad_ClientErrorIsDataInvalid(t *testing.T) {
	server, hits := newServer(t, http.StatusNotFound, `unknown symbol`)

	_, err := newLoader(server.URL, PriceBand{}).Load(context.Background(), key, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataInvalid), "error = %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestLoad_UnknownTimeframe(t *testing.T) {
	bad := key
	bad.Timeframe = "2m"

	_, err := NewLoader(nil, PriceBand{}, nil).Load(context.Background(), bad, 10)
	assert.True(t, errors.Is(err, model.ErrUnknownTimeframe), "error = %v", err)
}

func TestPriceBand(t *testing.T) {
	assert.False(t, PriceBand{}.Enabled())
	assert.True(t, PriceBand{Min: 1}.Enabled())

	b := PriceBand{Min: 100, Max: 1000}
	assert.True(t, b.Contains(100))
	assert.True(t, b.Contains(1000))
	assert.False(t, b.Contains(99.99))
	assert.False(t, b.Contains(1000.01))
	assert.True(t, PriceBand{Max: 10}.Contains(0.01))
}
