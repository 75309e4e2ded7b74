package event

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"screener_go/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvTickerBatch Type = iota + 1
	EvCandleUpdate
	EvSegmentReset
	EvSparklineReset
)

func (t Type) String() string {
	switch t {
	case EvTickerBatch:
		return "TICKER_BATCH"
	case EvCandleUpdate:
		return "CANDLE_UPDATE"
	case EvSegmentReset:
		return "SEGMENT_RESET"
	case EvSparklineReset:
		return "SPARKLINE_RESET"
	default:
		return fmt.Sprintf("TYPE_%d", uint16(t))
	}
}

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	SetSeq(seq uint64)
	GetTs() int64
	GetType() Type
}

// BaseEvent contains common fields for all events.
// Ts is Unix microseconds at receive time.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// SetSeq is called by the sequencer when the event is applied.
func (e *BaseEvent) SetSeq(seq uint64) { e.Seq = seq }

// TickerBatchEvent carries the decoded elements of one aggregate ticker frame.
type TickerBatchEvent struct {
	BaseEvent
	Segment domain.Segment        `json:"segment"`
	Updates []domain.TickerUpdate `json:"updates"`
}

func (e *TickerBatchEvent) GetType() Type { return EvTickerBatch }

// CandleEvent carries one live candle for the chart selection identified by Gen.
type CandleEvent struct {
	BaseEvent
	Gen      uint64          `json:"gen"`
	Symbol   string          `json:"symbol"`
	Interval domain.Interval `json:"interval"`
	Candle   domain.Candle   `json:"candle"`
}

func (e *CandleEvent) GetType() Type { return EvCandleUpdate }

// SegmentResetEvent empties the store ahead of a new segment's snapshot.
// A non-empty Universe restricts which symbols may be stored afterwards.
type SegmentResetEvent struct {
	BaseEvent
	Segment  domain.Segment `json:"segment"`
	Universe []string       `json:"universe,omitempty"`
}

func (e *SegmentResetEvent) GetType() Type { return EvSegmentReset }

// SparklineResetEvent replaces a ticker's recent prices with the closes of
// a fresh chart backfill.
type SparklineResetEvent struct {
	BaseEvent
	Segment domain.Segment `json:"segment"`
	Symbol  string         `json:"symbol"`
	Prices  []float64      `json:"prices"`
}

func (e *SparklineResetEvent) GetType() Type { return EvSparklineReset }

var tickerBatchPool = sync.Pool{
	New: func() any {
		return &TickerBatchEvent{Updates: make([]domain.TickerUpdate, 0, 512)}
	},
}

// AcquireTickerBatch returns an empty batch from the pool.
func AcquireTickerBatch() *TickerBatchEvent {
	return tickerBatchPool.Get().(*TickerBatchEvent)
}

// ReleaseTickerBatch resets ev and returns it to the pool.
// The caller must not touch ev afterwards.
func ReleaseTickerBatch(ev *TickerBatchEvent) {
	if ev == nil {
		return
	}
	clear(ev.Updates)
	ev.Updates = ev.Updates[:0]
	ev.BaseEvent = BaseEvent{}
	ev.Segment = ""
	tickerBatchPool.Put(ev)
}

// Release returns pooled events to their pool; other events are left to the GC.
func Release(ev Event) {
	if b, ok := ev.(*TickerBatchEvent); ok {
		ReleaseTickerBatch(b)
	}
}

// Stamp records the receive time. Sequence numbers are assigned later, in
// apply order, by the sequencer.
func Stamp(b *BaseEvent) {
	b.Ts = time.Now().UnixMicro()
}

// Decode rebuilds an event from its journaled type and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case EvTickerBatch:
		ev = &TickerBatchEvent{}
	case EvCandleUpdate:
		ev = &CandleEvent{}
	case EvSegmentReset:
		ev = &SegmentResetEvent{}
	case EvSparklineReset:
		ev = &SparklineResetEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
