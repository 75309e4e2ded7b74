package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"screener_go/internal/domain"
	"screener_go/internal/infra"
)

// TickerBatchHandler receives the decoded elements of one aggregate frame, in array order.
type TickerBatchHandler func(updates []domain.TickerUpdate)

// FeedConfig carries the stream endpoints and reconnect policy.
type FeedConfig struct {
	WSBase           map[domain.Segment]string
	MaxRetries       int
	BaseDelay        time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// FeedClient holds at most one subscription at a time. Subscribing again
// tears the previous connection down before the new one opens, and no frame
// from the old connection is delivered once the call returns.
//
// Handlers run on the transport goroutine and must not call back into the client.
type FeedClient struct {
	id  string
	cfg FeedConfig

	mu        sync.Mutex
	transport *infra.StreamTransport
	active    *domain.Subscription
}

// NewFeedClient creates an idle client.
func NewFeedClient(id string, cfg FeedConfig) *FeedClient {
	t := infra.NewStreamTransport(fmt.Sprintf("%s-%s", exchangeName, id))
	if cfg.MaxRetries > 0 {
		t.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		t.BaseDelay = cfg.BaseDelay
	}
	if cfg.ReadTimeout > 0 {
		t.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.HandshakeTimeout > 0 {
		t.HandshakeTimeout = cfg.HandshakeTimeout
	}
	return &FeedClient{id: id, cfg: cfg, transport: t}
}

// SubscribeAggregateTicker opens the wildcard mini-ticker stream of seg and
// delivers every element individually, preserving array order.
func (c *FeedClient) SubscribeAggregateTicker(ctx context.Context, seg domain.Segment, onUpdate func(domain.TickerUpdate)) error {
	return c.SubscribeAggregateTickerBatch(ctx, seg, func(updates []domain.TickerUpdate) {
		for _, u := range updates {
			onUpdate(u)
		}
	})
}

// SubscribeAggregateTickerBatch is SubscribeAggregateTicker with one callback per frame.
func (c *FeedClient) SubscribeAggregateTickerBatch(ctx context.Context, seg domain.Segment, onBatch TickerBatchHandler) error {
	sub := domain.AggregateTickerSubscription(seg)
	return c.subscribe(ctx, sub, func(_ context.Context, frame json.RawMessage) {
		if updates := decodeTickerFrame(frame); len(updates) > 0 {
			onBatch(updates)
		}
	})
}

// SubscribeCandle opens the candle stream for symbol/interval on seg.
func (c *FeedClient) SubscribeCandle(ctx context.Context, seg domain.Segment, symbol string, iv domain.Interval, onUpdate func(domain.Candle)) error {
	sub := domain.CandleSubscription(seg, symbol, iv)
	return c.subscribe(ctx, sub, func(_ context.Context, frame json.RawMessage) {
		candle, err := decodeKlineEvent(frame)
		if err != nil {
			slog.Debug("Skipping kline payload", "sub", sub.String(), "err", err)
			return
		}
		onUpdate(candle)
	})
}

// Disconnect closes the active subscription, if any. Idempotent.
func (c *FeedClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transport.Close()
	if c.active != nil {
		slog.Info("Feed unsubscribed", "client", c.id, "sub", c.active.String())
		c.active = nil
	}
}

// Active returns the current subscription.
func (c *FeedClient) Active() (domain.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return domain.Subscription{}, false
	}
	return *c.active, true
}

// Connected reports whether the physical connection is up right now.
func (c *FeedClient) Connected() bool {
	return c.transport.Connected()
}

func (c *FeedClient) subscribe(ctx context.Context, sub domain.Subscription, onMessage infra.FrameHandler) error {
	base, ok := c.cfg.WSBase[sub.Segment]
	if !ok || base == "" {
		return fmt.Errorf("no stream endpoint for segment %q", sub.Segment)
	}
	url := base + sub.StreamName()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Open closes the previous connection and waits for its reader first.
	c.transport.Open(ctx, url, onMessage, func(err error) {
		slog.Debug("Feed connection closed", "client", c.id, "sub", sub.String(), "err", err)
	})
	c.active = &sub
	slog.Info("Feed subscribed", "client", c.id, "sub", sub.String(), "url", url)
	return nil
}

// decodeTickerFrame decodes every element of an aggregate frame; bad
// elements are skipped without affecting their siblings.
func decodeTickerFrame(frame json.RawMessage) []domain.TickerUpdate {
	var elems []json.RawMessage
	if err := json.Unmarshal(unwrap(frame), &elems); err != nil {
		slog.Debug("Skipping non-array ticker frame", "err", err)
		return nil
	}

	updates := make([]domain.TickerUpdate, 0, len(elems))
	for i, raw := range elems {
		u, err := decodeMiniTicker(raw)
		if err != nil {
			slog.Debug("Skipping ticker element", "index", i, "err", err)
			continue
		}
		updates = append(updates, u)
	}
	return updates
}
