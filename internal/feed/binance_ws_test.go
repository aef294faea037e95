package feed

import (
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestParseCombinedTicker(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		ok        bool
		symbol    string
		price     float64
		eventTime int64
	}{
		{
			name:      "valid miniTicker",
			raw:       `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1735000000000,"s":"BTCUSDT","c":"50000.50"}}`,
			ok:        true,
			symbol:    "BTCUSDT",
			price:     50000.50,
			eventTime: 1735000000000,
		},
		{
			name:   "lowercase symbol is normalized",
			raw:    `{"stream":"ethusdt@miniTicker","data":{"E":1735000000000,"s":"ethusdt","c":"2300.1"}}`,
			ok:     true,
			symbol: "ETHUSDT",
			price:  2300.1,
		},
		{
			name: "missing close price",
			raw:  `{"stream":"btcusdt@miniTicker","data":{"E":1735000000000,"s":"BTCUSDT"}}`,
			ok:   false,
		},
		{
			name: "non-numeric price",
			raw:  `{"data":{"s":"BTCUSDT","c":"abc"}}`,
			ok:   false,
		},
		{
			name: "zero price rejected",
			raw:  `{"data":{"s":"BTCUSDT","c":"0"}}`,
			ok:   false,
		},
		{
			name: "malformed json",
			raw:  `{"stream":`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, ok := parseCombinedTicker([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tick.Symbol != tt.symbol {
				t.Errorf("symbol = %q, want %q", tick.Symbol, tt.symbol)
			}
			if tick.Price != tt.price {
				t.Errorf("price = %v, want %v", tick.Price, tt.price)
			}
			if tt.eventTime != 0 && !tick.At.Equal(time.UnixMilli(tt.eventTime)) {
				t.Errorf("at = %v, want %v", tick.At, time.UnixMilli(tt.eventTime))
			}
		})
	}
}

func TestParseCombinedTickerDefaultsTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	tick, ok := parseCombinedTicker([]byte(`{"data":{"s":"BTCUSDT","c":"100"}}`))
	if !ok {
		t.Fatal("expected tick")
	}
	if tick.At.Before(before) {
		t.Errorf("missing event time should default to now, got %v", tick.At)
	}
}

func TestStreamURL(t *testing.T) {
	f := NewWSFeed(WSConfig{
		URL:     "wss://stream.example.com/",
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
	}, testLogger())

	got := f.streamURL()
	want := "wss://stream.example.com/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker"
	if got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}
