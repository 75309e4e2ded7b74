package binance

import (
	"encoding/json"
	"testing"

	"screener_go/internal/domain"
)

func TestDecodeTickerFrame_SkipsBadElements(t *testing.T) {
	frame := json.RawMessage(`[
		{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"42000.50","o":"41000","h":"42500","l":"40900","v":"1234.5","q":"51000000"},
		{"s":"BROKEN","c":"not-a-number"},
		{"c":"1.0"},
		{"s":"ETHUSDT","c":2200.25,"p":"-10.5","P":"-0.47","v":"9000","q":"19800000"}
	]`)

	updates := decodeTickerFrame(frame)
	if len(updates) != 2 {
		t.Fatalf("expected 2 decoded updates, got %d", len(updates))
	}
	if updates[0].Symbol != "BTCUSDT" || updates[1].Symbol != "ETHUSDT" {
		t.Fatalf("array order not preserved: %s, %s", updates[0].Symbol, updates[1].Symbol)
	}

	btc := updates[0]
	if btc.Price == nil || *btc.Price != 42000.50 {
		t.Errorf("unexpected BTC price: %v", btc.Price)
	}
	if btc.PriceChange != nil || btc.PriceChangePercent != nil {
		t.Error("absent change fields must stay nil")
	}

	eth := updates[1]
	if eth.PriceChangePercent == nil || *eth.PriceChangePercent != -0.47 {
		t.Errorf("P must map to priceChangePercent, got %v", eth.PriceChangePercent)
	}
	if eth.PriceChange == nil || *eth.PriceChange != -10.5 {
		t.Errorf("p must map to priceChange, got %v", eth.PriceChange)
	}
}

func TestDecodeTickerFrame_NotAnArray(t *testing.T) {
	if got := decodeTickerFrame(json.RawMessage(`{"result":null,"id":1}`)); got != nil {
		t.Errorf("expected nil for non-array frame, got %v", got)
	}
}

func TestDecodeTickerFrame_CombinedEnvelope(t *testing.T) {
	frame := json.RawMessage(`{"stream":"!miniTicker@arr","data":[{"s":"BNBUSDT","c":"300"}]}`)
	updates := decodeTickerFrame(frame)
	if len(updates) != 1 || updates[0].Symbol != "BNBUSDT" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestDecodeKlineEvent(t *testing.T) {
	// T, L and V differ from t, l and v only by case.
	payload := json.RawMessage(`{
		"e":"kline","E":1700000065000,"s":"BTCUSDT",
		"k":{"t":1700000040000,"T":1700000099999,"s":"BTCUSDT","i":"1m","f":100,"L":99999,
		     "o":"42000.0","c":"42010.5","h":"42020.0","l":"41990.0","v":"12.5","n":50,
		     "x":false,"q":"525000","V":"6.1","Q":"256000","B":"0"}
	}`)

	c, err := decodeKlineEvent(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := domain.Candle{OpenTime: 1700000040, Open: 42000, High: 42020, Low: 41990, Close: 42010.5, Volume: 12.5}
	if c != want {
		t.Errorf("got %+v, want %+v", c, want)
	}
}

func TestDecodeKlineEvent_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no kline", `{"e":"kline","s":"BTCUSDT"}`},
		{"no open time", `{"k":{"o":"1","h":"1","l":"1","c":"1","v":"1"}}`},
		{"bad number", `{"k":{"t":1700000040000,"o":"x"}}`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeKlineEvent(json.RawMessage(tt.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeSnapshotRow_Aliases(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want domain.Ticker
	}{
		{
			name: "long names",
			row:  `{"symbol":"BTCUSDT","lastPrice":"42000","priceChange":"100","priceChangePercent":"0.24","volume":"1500","quoteVolume":"63000000","count":10}`,
			want: domain.Ticker{Symbol: "BTCUSDT", Price: 42000, PriceChange: 100, PriceChangePercent: 0.24, Volume: 1500, QuoteVolume: 63000000},
		},
		{
			name: "short names",
			row:  `{"symbol":"ETHUSDT","c":"2200","p":"-5","P":"-0.23","v":"800","q":"1760000"}`,
			want: domain.Ticker{Symbol: "ETHUSDT", Price: 2200, PriceChange: -5, PriceChangePercent: -0.23, Volume: 800, QuoteVolume: 1760000},
		},
		{
			name: "missing columns are zero",
			row:  `{"symbol":"XRPUSDT","lastPrice":"0.5"}`,
			want: domain.Ticker{Symbol: "XRPUSDT", Price: 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSnapshotRow(json.RawMessage(tt.row))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Symbol != tt.want.Symbol || got.Price != tt.want.Price ||
				got.PriceChange != tt.want.PriceChange || got.PriceChangePercent != tt.want.PriceChangePercent ||
				got.Volume != tt.want.Volume || got.QuoteVolume != tt.want.QuoteVolume {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if len(got.RecentPrices) != 0 {
				t.Error("snapshot rows must carry an empty sparkline")
			}
		})
	}
}

func TestDecodeKlineRow(t *testing.T) {
	row := json.RawMessage(`[1700000040000,"42000.0","42020.0","41990.0","42010.5","12.5",1700000099999,"525000",50,"6.1","256000","0"]`)
	c, err := decodeKlineRow(row)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if c.OpenTime != 1700000040 || c.Close != 42010.5 || c.Volume != 12.5 {
		t.Errorf("unexpected candle: %+v", c)
	}

	if _, err := decodeKlineRow(json.RawMessage(`[1700000040000,"1","2"]`)); err == nil {
		t.Error("expected error for short row")
	}
}

func TestNormalizeCandles(t *testing.T) {
	in := []domain.Candle{
		{OpenTime: 180, Close: 4},
		{OpenTime: 60, Close: 1},
		{OpenTime: 120, Close: 2},
		{OpenTime: 120, Close: 3},
		{OpenTime: 240, Close: 5},
	}

	got := normalizeCandles(in, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	wantTimes := []int64{120, 180, 240}
	for i, c := range got {
		if c.OpenTime != wantTimes[i] {
			t.Errorf("candle %d: open time %d, want %d", i, c.OpenTime, wantTimes[i])
		}
	}
	if got[0].Close != 3 {
		t.Errorf("duplicate open time should keep the later row, got close %v", got[0].Close)
	}
}
