// Package chart reconciles a historical candle backfill with live candle
// updates for the one symbol currently selected.
package chart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"screener_go/internal/domain"
)

// State of the controller's selection.
type State int

const (
	StateEmpty State = iota
	StateBackfilling
	StateLive
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBackfilling:
		return "backfilling"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as a word in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Selection identifies the displayed series.
type Selection struct {
	Segment  domain.Segment  `json:"segment"`
	Symbol   string          `json:"symbol"`
	Interval domain.Interval `json:"interval"`
}

// CandleFetcher loads a historical window. An empty result means no data.
type CandleFetcher interface {
	FetchCandleWindow(ctx context.Context, seg domain.Segment, symbol string, iv domain.Interval, limit int) []domain.Candle
}

// CandleFeed is a single-slot live candle subscription.
type CandleFeed interface {
	SubscribeCandle(ctx context.Context, seg domain.Segment, symbol string, iv domain.Interval, onUpdate func(domain.Candle)) error
	Disconnect()
}

// Config tunes the controller.
type Config struct {
	CandleLimit int // backfill window
	MaxCandles  int // series cap, oldest evicted first
	BufferLimit int // live updates held while backfilling

	// Deliver routes a live candle back into ApplyLive, e.g. through a
	// single-threaded event loop. Nil applies it on the feed goroutine.
	Deliver func(gen uint64, sel Selection, k domain.Candle)

	// OnBackfill is called after a non-empty backfill lands, outside any lock.
	OnBackfill func(sel Selection, candles []domain.Candle)
}

// Controller owns the candle series of the current selection. Select,
// SetInterval and Clear are serialized; each tears the previous
// subscription down before anything new starts. Backfills and live streams
// run under the context given to Bind, never under a caller's.
type Controller struct {
	fetcher CandleFetcher
	feed    CandleFeed
	cfg     Config

	opMu sync.Mutex // serializes selection changes
	wg   sync.WaitGroup

	mu      sync.Mutex
	base    context.Context
	state   State
	sel     Selection
	gen     uint64
	step    int64
	series  []domain.Candle
	pending []domain.Candle
	cancel  context.CancelFunc
}

// NewController creates an idle controller.
func NewController(fetcher CandleFetcher, feed CandleFeed, cfg Config) *Controller {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 500
	}
	if cfg.MaxCandles < cfg.CandleLimit {
		cfg.MaxCandles = cfg.CandleLimit
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 256
	}
	return &Controller{fetcher: fetcher, feed: feed, cfg: cfg, base: context.Background()}
}

// Bind sets the context every later backfill and live stream runs under.
// Cancelling it stops them; a caller's ctx passed to Select does not.
func (c *Controller) Bind(ctx context.Context) {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()
}

// Select discards any previous series and subscription, even for the same
// symbol, then starts a backfill for sel. The live subscription opens right
// away; its updates are buffered until the backfill lands. ctx only gates
// the call: both run until the next Select or Clear.
func (c *Controller) Select(ctx context.Context, sel Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel.Symbol = strings.ToUpper(strings.TrimSpace(sel.Symbol))
	if sel.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if sel.Interval.Seconds() == 0 {
		return fmt.Errorf("unknown interval %q", sel.Interval)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.selectLocked(sel)
	return nil
}

// SetInterval reselects the current symbol with iv. Without a selection it is a no-op.
func (c *Controller) SetInterval(ctx context.Context, iv domain.Interval) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if iv.Seconds() == 0 {
		return fmt.Errorf("unknown interval %q", iv)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	sel, ok := c.Selection()
	if !ok {
		return nil
	}
	sel.Interval = iv
	c.selectLocked(sel)
	return nil
}

// selectLocked must be called with opMu held and a validated sel.
func (c *Controller) selectLocked(sel Selection) {
	c.teardown()

	c.mu.Lock()
	sctx, cancel := context.WithCancel(c.base)
	c.gen++
	gen := c.gen
	c.sel = sel
	c.step = sel.Interval.Seconds()
	c.state = StateBackfilling
	c.cancel = cancel
	c.mu.Unlock()

	err := c.feed.SubscribeCandle(sctx, sel.Segment, sel.Symbol, sel.Interval, func(k domain.Candle) {
		if c.cfg.Deliver != nil {
			c.cfg.Deliver(gen, sel, k)
			return
		}
		c.ApplyLive(gen, k)
	})
	if err != nil {
		// The backfill still runs; an empty or failed stream only means no live updates.
		slog.Warn("Candle subscription failed", "symbol", sel.Symbol, "interval", sel.Interval, slog.Any("error", err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		candles := c.fetcher.FetchCandleWindow(sctx, sel.Segment, sel.Symbol, sel.Interval, c.cfg.CandleLimit)
		c.completeBackfill(gen, candles)
	}()

	slog.Info("Chart selected", "symbol", sel.Symbol, "interval", sel.Interval, "segment", sel.Segment, "gen", gen)
}

// Clear tears down the subscription and discards the series.
func (c *Controller) Clear() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown()
}

// teardown must be called with opMu held. It returns only after the old
// backfill goroutine has finished and the feed is closed.
func (c *Controller) teardown() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.gen++ // anything still in flight for the old selection is now stale
	c.state = StateEmpty
	c.sel = Selection{}
	c.series = nil
	c.pending = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.feed.Disconnect()
}

func (c *Controller) completeBackfill(gen uint64, candles []domain.Candle) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if len(candles) == 0 {
		// No baseline to reconcile against: stay loading without a live stream.
		c.pending = nil
		sym := c.sel.Symbol
		c.mu.Unlock()

		slog.Info("Empty candle backfill, live updates disabled", "symbol", sym)
		c.feed.Disconnect()
		return
	}

	series := make([]domain.Candle, len(candles), max(len(candles), c.cfg.MaxCandles))
	copy(series, candles)
	if len(series) > c.cfg.MaxCandles {
		series = series[len(series)-c.cfg.MaxCandles:]
	}
	c.series = series
	c.state = StateLive

	oldest := series[0].OpenTime
	for _, k := range c.pending {
		if k.OpenTime < oldest {
			continue
		}
		c.reconcile(k)
	}
	c.pending = nil

	sel := c.sel
	hook := c.cfg.OnBackfill
	var snapshot []domain.Candle
	if hook != nil {
		snapshot = append([]domain.Candle(nil), c.series...)
	}
	c.mu.Unlock()

	slog.Debug("Candle backfill applied", "symbol", sel.Symbol, "candles", len(series), "gen", gen)
	if hook != nil {
		hook(sel, snapshot)
	}
}

// ApplyLive applies a live candle produced for selection generation gen and
// reports whether the series changed. Updates for a superseded generation
// are ignored; updates during backfill are buffered.
func (c *Controller) ApplyLive(gen uint64, k domain.Candle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	switch c.state {
	case StateBackfilling:
		if len(c.pending) >= c.cfg.BufferLimit {
			c.pending = c.pending[1:]
		}
		c.pending = append(c.pending, k)
		return false
	case StateLive:
		return c.reconcile(k)
	}
	return false
}

// reconcile must be called with mu held and a non-empty series.
func (c *Controller) reconcile(k domain.Candle) bool {
	last := c.series[len(c.series)-1].OpenTime
	switch k.OpenTime {
	case last:
		c.series[len(c.series)-1] = k
		return true
	case last + c.step:
		c.series = append(c.series, k)
		if len(c.series) > c.cfg.MaxCandles {
			c.series = c.series[1:]
		}
		return true
	}
	// Out of order, duplicate or gapped: expected on a lossy feed.
	return false
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selection returns the current selection, if any.
func (c *Controller) Selection() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel, c.state != StateEmpty
}

// Generation identifies the current selection; it changes on every Select and Clear.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Series returns a copy of the current series, oldest first.
func (c *Controller) Series() []domain.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Candle(nil), c.series...)
}
