package view

import (
	"bytes"
	"strings"
	"testing"

	"screener_go/internal/domain"
)

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTable(&buf, []domain.Ticker{
		{Symbol: "BTCUSDT", Price: 42000, PriceChangePercent: 1.5, Volume: 1500, QuoteVolume: 63e6, RecentPrices: []float64{1, 2}},
		{Symbol: "PEPEUSDT", Price: 0.0000012, PriceChangePercent: -3, Volume: 12, RecentPrices: []float64{2}},
	})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"BTCUSDT", "42000.00", "+1.50", "1.50K", "63.00M", "up"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row 1 missing %q: %s", want, lines[1])
		}
	}
	for _, want := range []string{"PEPEUSDT", "0.00000120", "-3.00", "12.00", "-"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row 2 missing %q: %s", want, lines[2])
		}
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		prices []float64
		want   string
	}{
		{nil, "-"},
		{[]float64{1}, "-"},
		{[]float64{1, 2}, "up"},
		{[]float64{2, 3, 1}, "down"},
		{[]float64{2, 5, 2}, "flat"},
	}
	for _, tt := range tests {
		if got := trend(tt.prices); got != tt.want {
			t.Errorf("trend(%v) = %s, want %s", tt.prices, got, tt.want)
		}
	}
}
