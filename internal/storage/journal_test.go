package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"screener_go/internal/domain"
	"screener_go/internal/event"
)

func openTestJournal(t *testing.T) *FrameJournal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndLoad(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	session, err := j.BeginSession(ctx, "spot")
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}

	batch := &event.TickerBatchEvent{
		BaseEvent: event.BaseEvent{Seq: 1, Ts: 1000},
		Segment:   domain.SegmentSpot,
		Updates: []domain.TickerUpdate{
			{Symbol: "BTCUSDT", Price: domain.Float(42000), Volume: domain.Float(10)},
			{Symbol: "ETHUSDT", PriceChangePercent: domain.Float(-1.5)},
		},
	}
	candle := &event.CandleEvent{
		BaseEvent: event.BaseEvent{Seq: 3, Ts: 3000},
		Gen:       1,
		Symbol:    "BTCUSDT",
		Interval:  domain.Interval1m,
		Candle:    domain.Candle{OpenTime: 1700000040, Close: 42001},
	}

	// Out of order on purpose: Load sorts by sequence.
	if err := j.Append(ctx, candle); err != nil {
		t.Fatalf("Failed to append candle: %v", err)
	}
	if err := j.Append(ctx, batch); err != nil {
		t.Fatalf("Failed to append batch: %v", err)
	}

	loaded, err := j.Load(ctx, session)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(loaded))
	}

	gotBatch, ok := loaded[0].(*event.TickerBatchEvent)
	if !ok {
		t.Fatalf("Expected *TickerBatchEvent first, got %T", loaded[0])
	}
	if len(gotBatch.Updates) != 2 || *gotBatch.Updates[0].Price != 42000 {
		t.Errorf("Unexpected batch: %+v", gotBatch)
	}
	if gotBatch.Updates[1].Price != nil || *gotBatch.Updates[1].PriceChangePercent != -1.5 {
		t.Error("Partial fields must survive the round trip")
	}

	gotCandle, ok := loaded[1].(*event.CandleEvent)
	if !ok || gotCandle.Candle.Close != 42001 || gotCandle.Gen != 1 {
		t.Errorf("Unexpected candle event: %+v", loaded[1])
	}
}

func TestJournal_AppendWithoutSession(t *testing.T) {
	j := openTestJournal(t)
	ev := &event.CandleEvent{BaseEvent: event.BaseEvent{Seq: 1}}
	if err := j.Append(context.Background(), ev); err == nil {
		t.Error("Expected error when appending before BeginSession")
	}
}

func TestJournal_DuplicateSeqRejected(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	j.BeginSession(ctx, "spot")

	ev := &event.CandleEvent{BaseEvent: event.BaseEvent{Seq: 1}}
	if err := j.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := j.Append(ctx, ev); err == nil {
		t.Error("Expected primary key violation for duplicate seq")
	}
}

func TestJournal_Sessions(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	first, _ := j.BeginSession(ctx, "spot")
	j.Append(ctx, &event.CandleEvent{BaseEvent: event.BaseEvent{Seq: 1}})
	j.Append(ctx, &event.CandleEvent{BaseEvent: event.BaseEvent{Seq: 2}})

	time.Sleep(2 * time.Millisecond)
	second, _ := j.BeginSession(ctx, "futures")
	if j.Session() != second {
		t.Fatalf("Append target should move to the new session")
	}

	sessions, err := j.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != second || sessions[0].Segment != "futures" || sessions[0].Events != 0 {
		t.Errorf("Unexpected newest session: %+v", sessions[0])
	}
	if sessions[1].ID != first || sessions[1].Events != 2 {
		t.Errorf("Unexpected oldest session: %+v", sessions[1])
	}

	// Sessions are isolated.
	loaded, _ := j.Load(ctx, second)
	if len(loaded) != 0 {
		t.Errorf("Expected empty second session, got %d events", len(loaded))
	}
}
