package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"screener_go/internal/api"
	"screener_go/internal/chart"
	"screener_go/internal/domain"
	"screener_go/internal/engine"
	"screener_go/internal/event"
	"screener_go/internal/infra"
	"screener_go/internal/infra/binance"
	"screener_go/internal/publish"
	"screener_go/internal/screener"
	"screener_go/internal/storage"
	"screener_go/internal/view"

	"github.com/redis/go-redis/v9"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config *infra.Config

	Store      *screener.Store
	History    *binance.HistoryClient
	TickerFeed *binance.FeedClient
	CandleFeed *binance.FeedClient
	Sequencer  *engine.Sequencer
	Chart      *chart.Controller
	View       *view.State
	API        *api.Server
	Journal    *storage.FrameJournal
	Mirror     *publish.RedisMirror

	unlock func()

	// Sessions that outlive a single request (feed subscriptions, backfills)
	// run under this context.
	runCtx context.Context
	wg     sync.WaitGroup
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{runCtx: context.Background()}
}

// Initialize loads config, installs the logger and wires every component.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}

	slog.SetDefault(infra.NewLogger(cfg))
	infra.PrintBanner(cfg)
	slog.Info("🚀 Bootstrapping Screener Go...")

	return b.Build(cfg)
}

// Build wires the components for cfg without starting anything.
func (b *Bootstrap) Build(cfg *infra.Config) error {
	b.Config = cfg

	b.Store = screener.NewStore()

	b.History = binance.NewHistoryClient(binance.HistoryConfig{
		RestBase: map[domain.Segment]string{
			domain.SegmentSpot:    cfg.Binance.Spot.RestURL,
			domain.SegmentFutures: cfg.Binance.Futures.RestURL,
		},
		Timeout:    time.Duration(cfg.HTTP.TimeoutSec) * time.Second,
		RatePerSec: cfg.HTTP.RatePerSec,
		Burst:      cfg.HTTP.Burst,
	})

	feedCfg := binance.FeedConfig{
		WSBase: map[domain.Segment]string{
			domain.SegmentSpot:    cfg.Binance.Spot.WSURL,
			domain.SegmentFutures: cfg.Binance.Futures.WSURL,
		},
		MaxRetries:       cfg.Stream.MaxRetries,
		BaseDelay:        time.Duration(cfg.Stream.BaseDelayMS) * time.Millisecond,
		ReadTimeout:      time.Duration(cfg.Stream.ReadTimeoutSec) * time.Second,
		HandshakeTimeout: time.Duration(cfg.Stream.HandshakeTimeoutSec) * time.Second,
	}
	b.TickerFeed = binance.NewFeedClient("tickers", feedCfg)
	b.CandleFeed = binance.NewFeedClient("candles", feedCfg)

	if cfg.Journal.Path != "" {
		if err := b.openJournal(cfg.Journal.Path); err != nil {
			return err
		}
	}

	if b.Journal != nil {
		b.Sequencer = engine.NewSequencer(1024, b.Store, nil, b.Journal)
	} else {
		b.Sequencer = engine.NewSequencer(1024, b.Store, nil, nil)
	}
	b.Sequencer.SetDumpPath(filepath.Join(infra.GetWorkspaceDir(), "panic_dump.json"))

	b.Chart = chart.NewController(b.History, b.CandleFeed, chart.Config{
		CandleLimit: cfg.Market.CandleLimit,
		MaxCandles:  cfg.Market.MaxCandles,
		Deliver:     b.deliverCandle,
		OnBackfill:  b.reseedSparkline,
	})
	b.Sequencer.SetChart(b.Chart)

	seg, _ := domain.ParseSegment(cfg.Market.Segment)
	iv, _ := domain.ParseInterval(cfg.Market.Interval)
	field, _ := domain.ParseSortField(cfg.View.SortField)
	dir, _ := domain.ParseSortDirection(cfg.View.SortDirection)
	b.View = view.New(b.Store, b.Chart, view.Options{
		Spec:          domain.FilterSortSpec{SearchQuery: cfg.View.Search, SortField: field, SortDirection: dir},
		DarkMode:      cfg.View.DarkMode != nil && *cfg.View.DarkMode,
		Segment:       seg,
		Interval:      iv,
		SwitchSegment: b.SwitchSegment,
	})

	if cfg.API.Addr != "" {
		b.API = api.NewServer(b.Store, b.View, time.Duration(cfg.View.PushIntervalMS)*time.Millisecond)
		b.API.SetStats(func() any { return b.Sequencer.Stats() })
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.Mirror = publish.NewRedisMirror(client, cfg.Redis.KeyPrefix, cfg.Redis.Channel, 0)
	}

	return nil
}

func (b *Bootstrap) openJournal(p string) error {
	dbPath := infra.ResolveDataPath(p)
	if err := infra.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// The journal is single-writer.
	unlock, err := infra.CreateLockFile(dbPath + ".lock")
	if err != nil {
		return err
	}

	j, err := storage.OpenJournal(dbPath)
	if err != nil {
		unlock()
		return err
	}
	b.Journal = j
	b.unlock = unlock
	slog.Info("✅ Frame journal opened (WAL-mode)", "path", dbPath)
	return nil
}

// Start runs the event loop, loads the configured segment and starts the
// optional API and Redis mirror. It returns once the first snapshot is queued.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.runCtx = ctx
	b.Chart.Bind(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Sequencer.Run(ctx)
	}()

	seg, _ := domain.ParseSegment(b.Config.Market.Segment)
	if err := b.SwitchSegment(ctx, seg); err != nil {
		return err
	}

	if b.Mirror != nil {
		if err := b.Mirror.Ping(ctx); err != nil {
			// Keep going; flushes are retried every interval.
			slog.Error("Failed to connect to Redis", slog.Any("error", err))
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Mirror.Run(ctx, b.Store, time.Duration(b.Config.Redis.FlushIntervalMS)*time.Millisecond)
		}()
	}

	if b.API != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.API.Run(ctx, b.Config.API.Addr); err != nil {
				slog.Error("API server failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("✨ Screener fully operational", "segment", seg, "tickers", b.Store.Len())
	return nil
}

// SwitchSegment replaces the ticker feed and store contents with seg's.
// The reset and the snapshot go through the sequencer ahead of any live
// frame, so a journaled session replays from a complete state.
func (b *Bootstrap) SwitchSegment(ctx context.Context, seg domain.Segment) error {
	b.TickerFeed.Disconnect()
	b.Sequencer.SetSegment(seg)

	reset := &event.SegmentResetEvent{Segment: seg}
	if b.Config.Market.RestrictToUniverse {
		universe := b.History.FetchSymbolUniverse(ctx, seg)
		if len(universe) == 0 {
			slog.Warn("Empty symbol universe, not restricting", "segment", seg)
		}
		for sym := range universe {
			reset.Universe = append(reset.Universe, sym)
		}
		slices.Sort(reset.Universe)
	}
	event.Stamp(&reset.BaseEvent)
	if err := b.Sequencer.Enqueue(ctx, reset); err != nil {
		return fmt.Errorf("queue reset: %w", err)
	}

	snapshot := b.History.FetchSnapshot(ctx, seg)
	if len(snapshot) == 0 {
		slog.Warn("Empty ticker snapshot, waiting for the live feed", "segment", seg)
	} else {
		ev := &event.TickerBatchEvent{Segment: seg, Updates: make([]domain.TickerUpdate, 0, len(snapshot))}
		for _, t := range snapshot {
			ev.Updates = append(ev.Updates, domain.FullUpdate(t))
		}
		event.Stamp(&ev.BaseEvent)
		if err := b.Sequencer.Enqueue(ctx, ev); err != nil {
			return fmt.Errorf("queue snapshot: %w", err)
		}
	}

	err := b.TickerFeed.SubscribeAggregateTickerBatch(b.runCtx, seg, func(updates []domain.TickerUpdate) {
		ev := event.AcquireTickerBatch()
		event.Stamp(&ev.BaseEvent)
		ev.Segment = seg
		ev.Updates = append(ev.Updates, updates...)
		b.Sequencer.Submit(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s tickers: %w", seg, err)
	}

	slog.Info("Segment loaded", "segment", seg, "snapshot", len(snapshot))
	return nil
}

func (b *Bootstrap) deliverCandle(gen uint64, sel chart.Selection, k domain.Candle) {
	ev := &event.CandleEvent{Gen: gen, Symbol: sel.Symbol, Interval: sel.Interval, Candle: k}
	event.Stamp(&ev.BaseEvent)
	b.Sequencer.Submit(ev)
}

// reseedSparkline queues the backfilled closes as the symbol's sparkline.
func (b *Bootstrap) reseedSparkline(sel chart.Selection, candles []domain.Candle) {
	ev := &event.SparklineResetEvent{Segment: sel.Segment, Symbol: sel.Symbol, Prices: domain.Closes(candles)}
	event.Stamp(&ev.BaseEvent)
	if err := b.Sequencer.Enqueue(b.runCtx, ev); err != nil {
		slog.Debug("Sparkline reseed dropped", "symbol", sel.Symbol, slog.Any("error", err))
	}
}

// Close stops the feeds and releases the journal. Call after the Start
// context is cancelled.
func (b *Bootstrap) Close() {
	if b.TickerFeed != nil {
		b.TickerFeed.Disconnect()
	}
	if b.Chart != nil {
		b.Chart.Clear()
	}
	b.wg.Wait()

	if b.Mirror != nil {
		b.Mirror.Close()
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
	slog.Info("👋 Shutdown complete")
}
