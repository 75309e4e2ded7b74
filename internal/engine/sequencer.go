package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"screener_go/internal/domain"
	"screener_go/internal/event"
	"screener_go/internal/screener"
)

// ChartSink receives live candles tagged with the selection generation they
// were produced for.
type ChartSink interface {
	ApplyLive(gen uint64, k domain.Candle) bool
}

// Journal records applied events.
type Journal interface {
	Append(ctx context.Context, ev event.Event) error
}

// sessionJournal starts a new recording at every segment reset.
type sessionJournal interface {
	BeginSession(ctx context.Context, segment string) (string, error)
}

// Stats are counters for the inbox and event loop.
type Stats struct {
	NextSeq    uint64 `json:"next_seq"`
	Applied    uint64 `json:"applied"`
	Dropped    uint64 `json:"dropped"`
	Stale      uint64 `json:"stale"`
	Duplicates uint64 `json:"duplicates"`
	Gaps       uint64 `json:"gaps"`
	Panics     uint64 `json:"panics"`
}

// Sequencer is the single-threaded event loop that owns every write to the
// ticker store and the chart series. Producers hand events over via Submit;
// Run applies them in arrival order.
type Sequencer struct {
	inbox   chan event.Event
	store   *screener.Store
	chart   ChartSink
	journal Journal

	segment atomic.Value // domain.Segment; batches for any other segment are stale

	mu       sync.Mutex // guards nextSeq and dumpPath for external reads
	nextSeq  uint64
	dumpPath string

	applied    atomic.Uint64
	dropped    atomic.Uint64
	stale      atomic.Uint64
	duplicates atomic.Uint64
	gaps       atomic.Uint64
	panics     atomic.Uint64
}

// NewSequencer creates a sequencer. chart and journal may be nil.
func NewSequencer(inboxSize int, store *screener.Store, chart ChartSink, journal Journal) *Sequencer {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	s := &Sequencer{
		inbox:    make(chan event.Event, inboxSize),
		store:    store,
		chart:    chart,
		journal:  journal,
		nextSeq:  1,
		dumpPath: "panic_dump.json",
	}
	s.segment.Store(domain.Segment(""))
	return s
}

// SetChart attaches the chart sink. Call before Run.
func (s *Sequencer) SetChart(chart ChartSink) {
	s.chart = chart
}

// SetDumpPath sets where DumpState writes after a recovered panic.
func (s *Sequencer) SetDumpPath(path string) {
	s.mu.Lock()
	s.dumpPath = path
	s.mu.Unlock()
}

// SetSegment marks seg as current. Ticker batches queued for another segment
// are discarded when they reach the loop. An empty segment accepts all.
func (s *Sequencer) SetSegment(seg domain.Segment) {
	s.segment.Store(seg)
}

// Submit queues ev without blocking. When the inbox is full the event is
// dropped and released; the next frame supersedes it anyway.
func (s *Sequencer) Submit(ev event.Event) bool {
	select {
	case s.inbox <- ev:
		return true
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			slog.Warn("Sequencer inbox full, dropping events", slog.Uint64("dropped", n), slog.String("type", ev.GetType().String()))
		}
		event.Release(ev)
		return false
	}
}

// Enqueue queues ev, waiting for room. Used for events that must not be
// lost, such as a segment snapshot.
func (s *Sequencer) Enqueue(ctx context.Context, ev event.Event) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-ctx.Done():
		event.Release(ev)
		return ctx.Err()
	}
}

// Run starts the event loop. It must run in a single goroutine and returns
// when ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...", slog.Any("stats", s.Stats()))
			return
		case ev := <-s.inbox:
			s.processSafe(ev)
		}
	}
}

// processSafe keeps the loop alive when one event blows up.
func (s *Sequencer) processSafe(ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Uint64("seq", ev.GetSeq()))
			s.mu.Lock()
			path := s.dumpPath
			s.mu.Unlock()
			s.DumpState(path)
		}
	}()
	s.Process(ev)
}

// Process assigns the next sequence number to ev, journals it, applies it,
// then returns pooled events to their pool.
func (s *Sequencer) Process(ev event.Event) {
	defer event.Release(ev)

	s.mu.Lock()
	ev.SetSeq(s.nextSeq)
	s.nextSeq++
	s.mu.Unlock()

	if s.journal != nil {
		if r, ok := ev.(*event.SegmentResetEvent); ok {
			if sj, ok := s.journal.(sessionJournal); ok {
				if _, err := sj.BeginSession(context.Background(), string(r.Segment)); err != nil {
					slog.Warn("Journal session not started", slog.Any("error", err))
				}
			}
		}
		if err := s.journal.Append(context.Background(), ev); err != nil {
			slog.Warn("Journal append failed", slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
		}
	}

	s.dispatch(ev)
}

// ReplayEvent applies a journaled event without journaling it again. The
// event keeps its recorded sequence number.
func (s *Sequencer) ReplayEvent(ev event.Event) {
	if !s.ValidateSequence(ev.GetSeq()) {
		return
	}
	s.dispatch(ev)
}

// ValidateSequence reports whether a recorded event with seq should be
// applied. Old sequence numbers are duplicates and rejected. Gaps appear
// where a journal append failed; the cursor fast-forwards past them.
func (s *Sequencer) ValidateSequence(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected := s.nextSeq
	switch {
	case seq == expected:
	case seq < expected:
		s.duplicates.Add(1)
		slog.Debug("SEQUENCE_DUPLICATE_IGNORED", slog.Uint64("expected", expected), slog.Uint64("got", seq))
		return false
	default:
		s.gaps.Add(1)
		slog.Debug("SEQUENCE_GAP_TOLERATED", slog.Uint64("expected", expected), slog.Uint64("got", seq))
	}
	s.nextSeq = seq + 1
	return true
}

func (s *Sequencer) dispatch(ev event.Event) {
	switch e := ev.(type) {
	case *event.TickerBatchEvent:
		s.handleTickerBatch(e)
	case *event.CandleEvent:
		s.handleCandle(e)
	case *event.SegmentResetEvent:
		s.handleReset(e)
	case *event.SparklineResetEvent:
		s.handleSparkline(e)
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		return
	}
	s.applied.Add(1)
}

func (s *Sequencer) handleTickerBatch(e *event.TickerBatchEvent) {
	if cur := s.segment.Load().(domain.Segment); cur != "" && e.Segment != cur {
		s.stale.Add(1)
		return
	}
	s.store.MergeBatch(e.Updates)
}

func (s *Sequencer) handleReset(e *event.SegmentResetEvent) {
	s.store.Reset()
	if len(e.Universe) > 0 {
		universe := make(map[string]struct{}, len(e.Universe))
		for _, sym := range e.Universe {
			universe[sym] = struct{}{}
		}
		s.store.SetUniverse(universe)
	}
	slog.Info("Store reset", slog.String("segment", string(e.Segment)), slog.Int("universe", len(e.Universe)))
}

func (s *Sequencer) handleSparkline(e *event.SparklineResetEvent) {
	if cur := s.segment.Load().(domain.Segment); cur != "" && e.Segment != cur {
		s.stale.Add(1)
		return
	}
	s.store.ReplaceRecentPrices(e.Symbol, e.Prices)
}

func (s *Sequencer) handleCandle(e *event.CandleEvent) {
	if s.chart == nil {
		return
	}
	if !s.chart.ApplyLive(e.Gen, e.Candle) {
		slog.Debug("Candle not applied", slog.String("symbol", e.Symbol), slog.Int64("open", e.Candle.OpenTime), slog.Uint64("gen", e.Gen))
	}
}

// NextSeq returns the sequence number the loop expects next.
func (s *Sequencer) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Stats returns a snapshot of the counters.
func (s *Sequencer) Stats() Stats {
	return Stats{
		NextSeq:    s.NextSeq(),
		Applied:    s.applied.Load(),
		Dropped:    s.dropped.Load(),
		Stale:      s.stale.Load(),
		Duplicates: s.duplicates.Load(),
		Gaps:       s.gaps.Load(),
		Panics:     s.panics.Load(),
	}
}

// DumpState writes the counters and current projection to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Stats   Stats           `json:"stats"`
		Tickers []domain.Ticker `json:"tickers"`
	}{
		Stats:   s.Stats(),
		Tickers: s.store.Project(domain.DefaultFilterSortSpec()),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
