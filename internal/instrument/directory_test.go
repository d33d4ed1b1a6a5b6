package instrument

import (
	"testing"
	"time"
)

func TestResolveVenueCode(t *testing.T) {
	d := NewDirectory(map[string]string{"brk.b": "XNYS", "SHOP": "xtse"}, "", nil)

	tests := []struct {
		symbol string
		want   string
	}{
		{"RELIANCE.NS", "xnse"},
		{"vod.l", "xlon"},
		{"7203.T", "xtks"},
		{"SHOP", "xtse"},
		{"BRK.B", "xnys"},
		{"AAPL", DefaultVenueCode},
		{"", DefaultVenueCode},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := d.ResolveVenueCode(tt.symbol); got != tt.want {
				t.Errorf("ResolveVenueCode(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestResolveVenueCode_ConfiguredDefault(t *testing.T) {
	d := NewDirectory(nil, "XNAS", nil)
	if got := d.ResolveVenueCode("MSFT"); got != "xnas" {
		t.Errorf("ResolveVenueCode = %q, want %q", got, "xnas")
	}
}

func TestMarketOpen_NYSE(t *testing.T) {
	d := NewDirectory(nil, "", nil)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	saturday := time.Date(2024, 1, 20, 11, 0, 0, 0, ny)
	if d.MarketOpen("AAPL", saturday) {
		t.Error("MarketOpen on Saturday = true, want false")
	}

	wednesday := time.Date(2024, 1, 17, 11, 0, 0, 0, ny)
	if !d.MarketOpen("AAPL", wednesday) {
		t.Error("MarketOpen on Wednesday 11:00 ET = false, want true")
	}
	if !d.TradingDay("AAPL", wednesday) {
		t.Error("TradingDay on Wednesday = false, want true")
	}
}

func TestMarketOpen_UnknownCalendar(t *testing.T) {
	d := NewDirectory(map[string]string{"TEST": "zzzz"}, "", nil)
	sunday := time.Date(2024, 1, 21, 3, 0, 0, 0, time.UTC)

	if !d.MarketOpen("TEST", sunday) {
		t.Error("MarketOpen without calendar = false, want true")
	}
	if d.TradingDay("TEST", sunday) {
		t.Error("TradingDay on Sunday without calendar = true, want false")
	}
}
