package backtest

import (
	"context"
	"path/filepath"
	"testing"

	"screener_go/internal/domain"
	"screener_go/internal/engine"
	"screener_go/internal/event"
	"screener_go/internal/screener"
	"screener_go/internal/storage"
)

// record runs events through a journaling sequencer, the way the daemon does.
func record(t *testing.T, dbPath string, events ...event.Event) *screener.Store {
	t.Helper()
	j, err := storage.OpenJournal(dbPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	store := screener.NewStore()
	seq := engine.NewSequencer(16, store, nil, j)
	for _, ev := range events {
		seq.Process(ev)
	}
	return store
}

func tickers(seg domain.Segment, updates ...domain.TickerUpdate) *event.TickerBatchEvent {
	return &event.TickerBatchEvent{Segment: seg, Updates: updates}
}

func TestReplayer_RebuildLatest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	live := record(t, dbPath,
		&event.SegmentResetEvent{Segment: domain.SegmentSpot},
		tickers(domain.SegmentSpot,
			domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(42000), Volume: domain.Float(10)},
			domain.TickerUpdate{Symbol: "ETHUSDT", Price: domain.Float(2200), Volume: domain.Float(30)},
		),
		&event.CandleEvent{Symbol: "BTCUSDT", Candle: domain.Candle{OpenTime: 60, Close: 1}},
		tickers(domain.SegmentSpot, domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(42100)}),
		&event.SegmentResetEvent{Segment: domain.SegmentFutures, Universe: []string{"XRPUSDT"}},
		tickers(domain.SegmentFutures,
			domain.TickerUpdate{Symbol: "XRPUSDT", Price: domain.Float(0.6)},
			domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(1)},
		),
	)

	r, err := NewReplayer(dbPath)
	if err != nil {
		t.Fatalf("NewReplayer failed: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	sessions, err := r.Sessions(ctx)
	if err != nil || len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d (%v)", len(sessions), err)
	}
	if sessions[0].Segment != "futures" || sessions[1].Events != 4 {
		t.Errorf("unexpected sessions: %+v", sessions)
	}

	latest, err := r.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	store, err := r.Rebuild(ctx, latest)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if store.Len() != 1 || store.Len() != live.Len() {
		t.Fatalf("expected only XRPUSDT, replayed %d live %d", store.Len(), live.Len())
	}
	if xrp, ok := store.Get("XRPUSDT"); !ok || xrp.Price != 0.6 {
		t.Errorf("unexpected XRPUSDT: %+v", xrp)
	}

	spot, err := r.Rebuild(ctx, sessions[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	btc, _ := spot.Get("BTCUSDT")
	if btc.Price != 42100 || len(btc.RecentPrices) != 2 {
		t.Errorf("unexpected spot BTCUSDT: %+v", btc)
	}
}

func TestReplayer_EmptyJournal(t *testing.T) {
	r, err := NewReplayer(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Latest(context.Background()); err == nil {
		t.Error("expected error for a journal without sessions")
	}
}

func TestReplayer_Cancelled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	record(t, dbPath,
		&event.SegmentResetEvent{Segment: domain.SegmentSpot},
		tickers(domain.SegmentSpot, domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(1)}),
	)

	r, err := NewReplayer(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	latest, _ := r.Latest(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Rebuild(ctx, latest); err == nil {
		t.Error("expected error for a cancelled replay")
	}
}
