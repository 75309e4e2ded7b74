package binance

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"screener_go/internal/domain"
	"screener_go/internal/infra"
)

// HistoryConfig configures the REST client.
type HistoryConfig struct {
	RestBase   map[domain.Segment]string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// HistoryClient performs one-shot REST fetches. Every failure is logged and
// reported as an empty result; callers retry on their own schedule.
type HistoryClient struct {
	restBase   map[domain.Segment]string
	httpClient *http.Client
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker
}

// NewHistoryClient creates a REST client with its own limiter and breaker.
func NewHistoryClient(cfg HistoryConfig) *HistoryClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &HistoryClient{
		restBase: cfg.RestBase,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: infra.NewRateLimiter(cfg.Burst, cfg.RatePerSec),
		breaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig(exchangeName + "-REST")),
	}
}

// FetchSnapshot returns the 24h statistics of every symbol on seg, each with
// an empty sparkline buffer.
func (c *HistoryClient) FetchSnapshot(ctx context.Context, seg domain.Segment) []domain.Ticker {
	var rows []json.RawMessage
	if err := c.getJSON(ctx, seg, "/ticker/24hr", nil, &rows); err != nil {
		slog.Warn("Snapshot fetch failed", "segment", seg, slog.Any("error", err))
		return nil
	}

	tickers := make([]domain.Ticker, 0, len(rows))
	for _, raw := range rows {
		t, err := decodeSnapshotRow(raw)
		if err != nil {
			slog.Debug("Skipping snapshot row", "err", err)
			continue
		}
		tickers = append(tickers, t)
	}
	return tickers
}

// FetchSymbolUniverse returns the symbols currently trading on seg.
func (c *HistoryClient) FetchSymbolUniverse(ctx context.Context, seg domain.Segment) map[string]struct{} {
	var info exchangeInfo
	if err := c.getJSON(ctx, seg, "/exchangeInfo", nil, &info); err != nil {
		slog.Warn("Symbol universe fetch failed", "segment", seg, slog.Any("error", err))
		return nil
	}

	universe := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		universe[s.Symbol] = struct{}{}
	}
	return universe
}

// FetchCandleWindow returns at most limit candles strictly ascending by
// open time, most recent last.
func (c *HistoryClient) FetchCandleWindow(ctx context.Context, seg domain.Segment, symbol string, iv domain.Interval, limit int) []domain.Candle {
	if limit <= 0 {
		return nil
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", string(iv))
	q.Set("limit", strconv.Itoa(limit))

	var rows []json.RawMessage
	if err := c.getJSON(ctx, seg, "/klines", q, &rows); err != nil {
		slog.Warn("Kline fetch failed", "symbol", symbol, "interval", iv, slog.Any("error", err))
		return nil
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, raw := range rows {
		k, err := decodeKlineRow(raw)
		if err != nil {
			slog.Debug("Skipping kline row", "symbol", symbol, "err", err)
			continue
		}
		candles = append(candles, k)
	}
	return normalizeCandles(candles, limit)
}

// normalizeCandles sorts by open time, keeps the last entry of each open
// time and trims to the newest limit entries.
func normalizeCandles(candles []domain.Candle, limit int) []domain.Candle {
	slices.SortStableFunc(candles, func(a, b domain.Candle) int {
		return cmp.Compare(a.OpenTime, b.OpenTime)
	})

	out := candles[:0]
	for _, k := range candles {
		if n := len(out); n > 0 && out[n-1].OpenTime == k.OpenTime {
			out[n-1] = k
			continue
		}
		out = append(out, k)
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (c *HistoryClient) getJSON(ctx context.Context, seg domain.Segment, path string, q url.Values, dst any) error {
	base, ok := c.restBase[seg]
	if !ok || base == "" {
		return fmt.Errorf("no REST endpoint for segment %q", seg)
	}
	if !c.breaker.Allow() {
		return fmt.Errorf("circuit breaker open")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.doGet(ctx, base+path, q, dst)
	// Caller cancellation says nothing about the endpoint's health.
	if ctx.Err() == nil {
		c.breaker.Record(err)
	}
	return err
}

func (c *HistoryClient) doGet(ctx context.Context, endpoint string, q url.Values, dst any) error {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.GetUserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
