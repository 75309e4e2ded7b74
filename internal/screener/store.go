// Package screener holds the ticker store: the latest known state of every
// symbol plus the filter and sort projection read by the view layer.
package screener

import (
	"cmp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"screener_go/internal/domain"
)

// record is one arena slot. Ticker.RecentPrices is unused here; the ring
// is copied out on read.
type record struct {
	ticker  domain.Ticker
	history domain.PriceHistory
}

// Store maps symbol to latest ticker. Records live in a flat arena indexed
// by symbol and are never removed except by Reset.
//
// Every exported method is safe for concurrent use, and each merge is
// applied atomically with respect to readers.
type Store struct {
	mu       sync.RWMutex
	index    map[string]int
	records  []record
	universe map[string]struct{} // nil means unrestricted
	dirty    map[string]struct{}
	version  uint64

	watchMu   sync.Mutex
	watchers  map[int]chan struct{}
	nextWatch int

	now func() time.Time
}

// NewStore creates an empty, unrestricted store.
func NewStore() *Store {
	return &Store{
		index:    make(map[string]int),
		dirty:    make(map[string]struct{}),
		watchers: make(map[int]chan struct{}),
		now:      time.Now,
	}
}

// Merge applies a partial update and reports whether anything changed.
// An update whose touched fields all equal the stored values is a no-op.
// Creating a record counts as a change.
func (s *Store) Merge(u domain.TickerUpdate) bool {
	s.mu.Lock()
	changed := s.mergeLocked(u, s.now())
	if changed {
		s.version++
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// MergeBatch merges updates in order under one lock and returns how many changed.
func (s *Store) MergeBatch(updates []domain.TickerUpdate) int {
	if len(updates) == 0 {
		return 0
	}

	s.mu.Lock()
	now := s.now()
	n := 0
	for _, u := range updates {
		if s.mergeLocked(u, now) {
			n++
		}
	}
	if n > 0 {
		s.version++
	}
	s.mu.Unlock()

	if n > 0 {
		s.notify()
	}
	return n
}

// LoadSnapshot merges full records, seeding each sparkline with the snapshot price.
func (s *Store) LoadSnapshot(tickers []domain.Ticker) int {
	updates := make([]domain.TickerUpdate, 0, len(tickers))
	for _, t := range tickers {
		updates = append(updates, domain.FullUpdate(t))
	}
	return s.MergeBatch(updates)
}

func (s *Store) mergeLocked(u domain.TickerUpdate, now time.Time) bool {
	if u.Symbol == "" || u.Empty() {
		return false
	}
	if s.universe != nil {
		if _, ok := s.universe[u.Symbol]; !ok {
			return false
		}
	}

	idx, ok := s.index[u.Symbol]
	created := !ok
	if created {
		idx = len(s.records)
		s.records = append(s.records, record{ticker: domain.Ticker{Symbol: u.Symbol}})
		s.index[u.Symbol] = idx
	}
	rec := &s.records[idx]
	t := &rec.ticker

	if !created && !differs(u.Price, t.Price) && !differs(u.PriceChange, t.PriceChange) &&
		!differs(u.PriceChangePercent, t.PriceChangePercent) && !differs(u.Volume, t.Volume) &&
		!differs(u.QuoteVolume, t.QuoteVolume) {
		return false
	}

	if u.Price != nil {
		t.Price = *u.Price
		rec.history.Push(*u.Price)
	}
	if u.PriceChange != nil {
		t.PriceChange = *u.PriceChange
	}
	if u.PriceChangePercent != nil {
		t.PriceChangePercent = *u.PriceChangePercent
	}
	if u.Volume != nil {
		t.Volume = *u.Volume
	}
	if u.QuoteVolume != nil {
		t.QuoteVolume = *u.QuoteVolume
	}
	t.LastUpdate = now
	s.dirty[u.Symbol] = struct{}{}
	return true
}

func differs(in *float64, cur float64) bool {
	return in != nil && *in != cur
}

// ReplaceRecentPrices swaps the sparkline of an existing symbol for the last
// RecentPricesCap entries of prices. Unknown symbols are ignored.
func (s *Store) ReplaceRecentPrices(symbol string, prices []float64) bool {
	s.mu.Lock()
	idx, ok := s.index[symbol]
	if ok {
		rec := &s.records[idx]
		rec.history.Replace(prices)
		rec.ticker.LastUpdate = s.now()
		s.dirty[symbol] = struct{}{}
		s.version++
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
	return ok
}

// SetUniverse restricts future merges to the given symbols; nil lifts the
// restriction. Existing records are kept.
func (s *Store) SetUniverse(symbols map[string]struct{}) {
	var u map[string]struct{}
	if symbols != nil {
		u = make(map[string]struct{}, len(symbols))
		for sym := range symbols {
			u[sym] = struct{}{}
		}
	}

	s.mu.Lock()
	s.universe = u
	s.mu.Unlock()
}

// Restricted reports whether a universe restriction is active.
func (s *Store) Restricted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.universe != nil
}

// Reset drops every record and the universe restriction.
// Used when the store is repointed at another market segment.
func (s *Store) Reset() {
	s.mu.Lock()
	s.index = make(map[string]int)
	s.records = nil
	s.universe = nil
	s.dirty = make(map[string]struct{})
	s.version++
	s.mu.Unlock()

	s.notify()
}

// Get returns a copy of one record.
func (s *Store) Get(symbol string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[symbol]
	if !ok {
		return domain.Ticker{}, false
	}
	return s.records[idx].snapshot(), true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Version increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// DrainDirty returns the symbols changed since the previous call, sorted.
func (s *Store) DrainDirty() []string {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	out := make([]string, 0, len(s.dirty))
	for sym := range s.dirty {
		out = append(out, sym)
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// Project filters by case-insensitive symbol substring and sorts by the
// requested field. Equal keys keep arena (first-seen) order. The result is
// a copy and safe to retain.
func (s *Store) Project(spec domain.FilterSortSpec) []domain.Ticker {
	query := strings.ToLower(strings.TrimSpace(spec.SearchQuery))

	s.mu.RLock()
	out := make([]domain.Ticker, 0, len(s.records))
	for i := range s.records {
		rec := &s.records[i]
		if query != "" && !strings.Contains(strings.ToLower(rec.ticker.Symbol), query) {
			continue
		}
		out = append(out, rec.snapshot())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, comparator(spec.SortField, spec.SortDirection))
	return out
}

func (r *record) snapshot() domain.Ticker {
	t := r.ticker
	t.RecentPrices = r.history.Values()
	return t
}

func comparator(field domain.SortField, dir domain.SortDirection) func(a, b domain.Ticker) int {
	var by func(a, b domain.Ticker) int
	switch field {
	case domain.SortByPrice:
		by = func(a, b domain.Ticker) int { return cmp.Compare(a.Price, b.Price) }
	case domain.SortByPriceChangePercent:
		by = func(a, b domain.Ticker) int { return cmp.Compare(a.PriceChangePercent, b.PriceChangePercent) }
	case domain.SortBySymbol:
		by = func(a, b domain.Ticker) int { return strings.Compare(a.Symbol, b.Symbol) }
	default:
		by = func(a, b domain.Ticker) int { return cmp.Compare(a.Volume, b.Volume) }
	}

	if dir == domain.Ascending {
		return by
	}
	return func(a, b domain.Ticker) int { return by(b, a) }
}

// Watch registers for change notifications. The channel has a buffer of one
// and coalesces bursts; a receive means "something changed since you last looked".
func (s *Store) Watch() (int, <-chan struct{}) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.nextWatch++
	ch := make(chan struct{}, 1)
	s.watchers[s.nextWatch] = ch
	return s.nextWatch, ch
}

// Unwatch removes a watcher registered with Watch.
func (s *Store) Unwatch(id int) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	delete(s.watchers, id)
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
