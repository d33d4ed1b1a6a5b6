package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

func TestNewClient(t *testing.T) {
	c := NewClient("https://history.example.com", "k")
	if c.baseURL != "https://history.example.com" || c.apiKey != "k" {
		t.Errorf("client = %+v", c)
	}
	if c.httpClient.Timeout != DefaultTimeout || c.maxRetries != DefaultMaxRetries || c.retryDelay != DefaultRetryDelay {
		t.Errorf("defaults = timeout %v, retries %d, delay %v", c.httpClient.Timeout, c.maxRetries, c.retryDelay)
	}

	logger := slog.New(slog.DiscardHandler)
	hc := &http.Client{}
	c = NewClient("", "",
		WithHTTPClient(hc),
		WithTimeout(5*time.Second),
		WithRetries(4, time.Millisecond),
		WithLogger(logger),
	)
	if c.httpClient != hc || hc.Timeout != 5*time.Second {
		t.Errorf("WithHTTPClient/WithTimeout not applied: %+v", c.httpClient)
	}
	if c.maxRetries != 4 || c.retryDelay != time.Millisecond {
		t.Errorf("WithRetries not applied: %d, %v", c.maxRetries, c.retryDelay)
	}
	if c.logger != logger {
		t.Error("WithLogger not applied")
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "Not Found"}
	if got := err.Error(); got != "api error 404: Not Found" {
		t.Errorf("Error() = %q", got)
	}

	for code, want := range map[int]bool{500: true, 503: true, 429: true, 400: false, 404: false, 499: false} {
		if got := (&APIError{StatusCode: code}).IsRetryable(); got != want {
			t.Errorf("IsRetryable(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestDoRequest(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		query      url.Values
		status     int
		wantAuth   string
		wantStatus int // 0 means success
	}{
		{name: "bearer key and query", apiKey: "k", query: url.Values{"limit": {"10"}}, status: 200, wantAuth: "Bearer k"},
		{name: "no key", status: 200},
		{name: "not found", apiKey: "k", status: 404, wantAuth: "Bearer k", wantStatus: 404},
		{name: "server error", status: 500, wantStatus: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != tt.wantAuth {
					t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
				}
				if got := r.Header.Get("Accept"); got != "application/json" {
					t.Errorf("Accept = %q", got)
				}
				if r.URL.RawQuery != tt.query.Encode() {
					t.Errorf("query = %q, want %q", r.URL.RawQuery, tt.query.Encode())
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"from":"server"}`))
			}))
			defer server.Close()

			body, err := NewClient(server.URL, tt.apiKey).doRequest(context.Background(), http.MethodGet, "/x", tt.query)
			if tt.wantStatus == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(body) != `{"from":"server"}` {
					t.Errorf("body = %q", body)
				}
				return
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantStatus || !strings.Contains(string(apiErr.Body), "server") {
				t.Errorf("APIError = %d %q", apiErr.StatusCode, apiErr.Body)
			}
		})
	}

	t.Run("transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()

		_, err := NewClient(server.URL, "").doRequest(context.Background(), http.MethodGet, "/x", nil)
		if !errors.Is(err, ErrTransport) {
			t.Errorf("error = %v, want ErrTransport", err)
		}
	})
}

func TestDoWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int // response per attempt; the last repeats
		retries      int
		wantErr      string
		wantAttempts int32
	}{
		{name: "first try", statuses: []int{200}, retries: 3, wantAttempts: 1},
		{name: "recovers after 5xx", statuses: []int{500, 502, 200}, retries: 3, wantAttempts: 3},
		{name: "recovers after 429", statuses: []int{429, 200}, retries: 3, wantAttempts: 2},
		{name: "4xx is permanent", statuses: []int{400}, retries: 3, wantErr: "api error 400", wantAttempts: 1},
		{name: "exhausted", statuses: []int{503}, retries: 2, wantErr: "max retries exceeded", wantAttempts: 3},
		{name: "no retries", statuses: []int{503}, retries: 0, wantErr: "max retries exceeded", wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&attempts, 1))
				w.WriteHeader(tt.statuses[min(n, len(tt.statuses))-1])
			}))
			defer server.Close()

			c := NewClient(server.URL, "", WithRetries(tt.retries, time.Millisecond))
			_, err := c.doWithRetry(context.Background(), http.MethodGet, "/x", nil)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}

	t.Run("cancelled between retries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/x", nil)
		if err == nil || strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error = %v, want the context error", err)
		}
	})
}

// TestIsTransient tests error classification for retries.
func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("do request: %w: %w", ErrTransport, errors.New("connection refused")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", fmt.Errorf("do request: %w: %w", ErrTransport, context.Canceled), false},
		{"503", &APIError{StatusCode: 503}, true},
		{"429 wrapped", fmt.Errorf("get candles: %w", &APIError{StatusCode: 429}), true},
		{"404", &APIError{StatusCode: 404}, false},
		{"decode", errors.New("unmarshal response: bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestGetCandles tests the GetCandles method.
func TestGetCandles(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/candles" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/candles")
			}
			q := r.URL.Query()
			if q.Get("symbol") != "RELIANCE.NS" {
				t.Errorf("symbol = %q, want %q", q.Get("symbol"), "RELIANCE.NS")
			}
			if q.Get("timeframe") != "5m" {
				t.Errorf("timeframe = %q, want %q", q.Get("timeframe"), "5m")
			}
			if q.Get("exchange") != "xnse" {
				t.Errorf("exchange = %q, want %q", q.Get("exchange"), "xnse")
			}
			if q.Get("limit") != "500" {
				t.Errorf("limit = %q, want %q", q.Get("limit"), "500")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"success": true,
				"candles": [
					{"time": 1705328100, "open": 2500.5, "high": "2510", "low": 2495, "close": "2505.25", "volume": 1000},
					{"start": "2024-01-15T14:20:00Z", "open": 2505, "high": 2506, "low": 2501, "close": 2502, "vol": "750"},
					{"timestamp": 1705328700000, "open": 2502, "high": 2503, "low": 2500, "close": 2501}
				]
			}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		resp, err := c.GetCandles(context.Background(), CandlesRequest{
			Instrument: "RELIANCE.NS",
			Timeframe:  model.Timeframe5m,
			Venue:      "xnse",
			MaxPoints:  500,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.OK() {
			t.Error("OK() = false, want true")
		}
		if len(resp.Candles) != 3 {
			t.Fatalf("len(Candles) = %d, want 3", len(resp.Candles))
		}

		first := resp.Candles[0].ToModel()
		if !first.OpenTime.Equal(time.Unix(1705328100, 0)) {
			t.Errorf("OpenTime = %v", first.OpenTime)
		}
		if first.High != 2510 || first.Close != 2505.25 || first.Volume != 1000 {
			t.Errorf("first = %+v", first)
		}

		second := resp.Candles[1]
		if !second.Time.Equal(time.Date(2024, 1, 15, 14, 20, 0, 0, time.UTC)) {
			t.Errorf("start alias not resolved: %v", second.Time.Time)
		}
		if second.ToModel().Volume != 750 {
			t.Errorf("vol alias not resolved: %v", second.Volume)
		}

		third := resp.Candles[2]
		if !third.Complete() {
			t.Error("Complete() = false for candle with all prices")
		}
		if third.Volume.Valid {
			t.Error("missing volume decoded as present")
		}
	})

	t.Run("success absent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"candles": []}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		resp, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "AAPL", Timeframe: model.Timeframe1d})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Success != nil {
			t.Errorf("Success = %v, want nil", *resp.Success)
		}
		if resp.OK() {
			t.Error("OK() = true, want false")
		}
	})

	t.Run("omits empty venue and limit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Has("exchange") || q.Has("limit") {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"success": true, "candles": []}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "AAPL", Timeframe: model.Timeframe1m}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("exhausted retries stay transient", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, "", WithRetries(2, time.Millisecond))
		_, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "AAPL", Timeframe: model.Timeframe1m})
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false, want true", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`not valid json`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "AAPL", Timeframe: model.Timeframe1m})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "unmarshal") {
			t.Errorf("error should contain 'unmarshal', got %v", err)
		}
		if IsTransient(err) {
			t.Error("decode error classified as transient")
		}
	})
}
