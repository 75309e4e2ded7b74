package screener

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"screener_go/internal/domain"
)

// stepClock advances one second per call
type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore() *Store {
	s := NewStore()
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}
	s.now = clock.now
	return s
}

func symbols(ts []domain.Ticker) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Symbol
	}
	return out
}

func TestStore_MergeCreatesRecord(t *testing.T) {
	s := newTestStore()

	if !s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Volume: domain.Float(10)}) {
		t.Fatal("first merge must report a change")
	}
	got, ok := s.Get("BTCUSDT")
	if !ok {
		t.Fatal("record not created")
	}
	if got.Volume != 10 || got.Price != 0 {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.RecentPrices) != 0 {
		t.Error("no price was merged, sparkline must be empty")
	}
	if got.LastUpdate.IsZero() {
		t.Error("lastUpdate must be set on creation")
	}
}

func TestStore_EmptyUpdateIgnored(t *testing.T) {
	s := newTestStore()

	if s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT"}) {
		t.Error("an update without fields must report no change")
	}
	if s.Len() != 0 || s.Version() != 0 {
		t.Errorf("an update without fields must not create a record: len=%d version=%d", s.Len(), s.Version())
	}
}

func TestStore_RecentPricesBoundedFIFO(t *testing.T) {
	s := newTestStore()

	withPrice := 0
	for i := 1; i <= 150; i++ {
		u := domain.TickerUpdate{Symbol: "ETHUSDT", Volume: domain.Float(float64(i))}
		if i%3 != 0 {
			u.Price = domain.Float(float64(i))
			withPrice++
		}
		s.Merge(u)

		got, _ := s.Get("ETHUSDT")
		want := withPrice
		if want > domain.RecentPricesCap {
			want = domain.RecentPricesCap
		}
		if len(got.RecentPrices) != want {
			t.Fatalf("after %d merges: len=%d, want %d", i, len(got.RecentPrices), want)
		}
		if u.Price != nil && got.RecentPrices[len(got.RecentPrices)-1] != got.Price {
			t.Fatalf("last sparkline entry %v != price %v", got.RecentPrices[len(got.RecentPrices)-1], got.Price)
		}
	}

	got, _ := s.Get("ETHUSDT")
	for i := 1; i < len(got.RecentPrices); i++ {
		if got.RecentPrices[i] <= got.RecentPrices[i-1] {
			t.Fatalf("FIFO order broken at %d: %v", i, got.RecentPrices)
		}
	}
	if got.RecentPrices[len(got.RecentPrices)-1] != 149 {
		t.Errorf("expected newest price 149, got %v", got.RecentPrices[len(got.RecentPrices)-1])
	}
}

func TestStore_NoOpMergeIsSuppressed(t *testing.T) {
	s := newTestStore()
	u := domain.TickerUpdate{
		Symbol:      "BTCUSDT",
		Price:       domain.Float(42000),
		Volume:      domain.Float(1500),
		QuoteVolume: domain.Float(63e6),
	}
	s.Merge(u)
	s.DrainDirty()

	before, _ := s.Get("BTCUSDT")
	version := s.Version()

	if s.Merge(u) {
		t.Error("identical merge must report no change")
	}
	// Touching only a subset of unchanged fields is also a no-op.
	if s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Volume: domain.Float(1500)}) {
		t.Error("subset merge with equal values must report no change")
	}

	after, _ := s.Get("BTCUSDT")
	if !after.LastUpdate.Equal(before.LastUpdate) {
		t.Errorf("lastUpdate bumped by no-op: %v -> %v", before.LastUpdate, after.LastUpdate)
	}
	if len(after.RecentPrices) != 1 {
		t.Errorf("no-op must not push a price, sparkline len=%d", len(after.RecentPrices))
	}
	if s.Version() != version {
		t.Error("version bumped by no-op")
	}
	if d := s.DrainDirty(); len(d) != 0 {
		t.Errorf("no-op marked records dirty: %v", d)
	}
}

func TestStore_ChangedFieldAppendsPresentPrice(t *testing.T) {
	s := newTestStore()
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(100), Volume: domain.Float(1)})
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(100), Volume: domain.Float(2)})

	got, _ := s.Get("BTCUSDT")
	if !reflect.DeepEqual(got.RecentPrices, []float64{100, 100}) {
		t.Errorf("expected price appended on changed merge, got %v", got.RecentPrices)
	}
}

func TestStore_UniverseRestriction(t *testing.T) {
	s := newTestStore()
	s.SetUniverse(map[string]struct{}{"BTCUSDT": {}})

	if s.Merge(domain.TickerUpdate{Symbol: "BTCDOWNUSDT", Price: domain.Float(1)}) {
		t.Error("symbol outside the universe must be dropped")
	}
	if !s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(1)}) {
		t.Error("symbol inside the universe must merge")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 record, got %d", s.Len())
	}

	s.SetUniverse(nil)
	if !s.Merge(domain.TickerUpdate{Symbol: "BTCDOWNUSDT", Price: domain.Float(1)}) {
		t.Error("cleared universe must accept every symbol")
	}
}

func TestStore_ProjectFilter(t *testing.T) {
	s := newTestStore()
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Volume: domain.Float(2)})
	s.Merge(domain.TickerUpdate{Symbol: "ETHUSDT", Volume: domain.Float(1)})

	spec := domain.FilterSortSpec{SearchQuery: "eth", SortField: domain.SortByVolume, SortDirection: domain.Descending}
	got := symbols(s.Project(spec))
	if !reflect.DeepEqual(got, []string{"ETHUSDT"}) {
		t.Errorf("expected [ETHUSDT], got %v", got)
	}

	spec.SearchQuery = "USDT"
	if got := symbols(s.Project(spec)); len(got) != 2 {
		t.Errorf("expected both symbols, got %v", got)
	}

	spec.SearchQuery = "doge"
	if got := s.Project(spec); len(got) != 0 {
		t.Errorf("expected no match, got %v", symbols(got))
	}
}

func TestStore_ProjectSort(t *testing.T) {
	s := newTestStore()
	s.Merge(domain.TickerUpdate{Symbol: "A", Volume: domain.Float(10), Price: domain.Float(3), PriceChangePercent: domain.Float(-1)})
	s.Merge(domain.TickerUpdate{Symbol: "B", Volume: domain.Float(30), Price: domain.Float(1), PriceChangePercent: domain.Float(5)})
	s.Merge(domain.TickerUpdate{Symbol: "C", Volume: domain.Float(20), Price: domain.Float(2), PriceChangePercent: domain.Float(2)})

	tests := []struct {
		field domain.SortField
		dir   domain.SortDirection
		want  []string
	}{
		{domain.SortByVolume, domain.Descending, []string{"B", "C", "A"}},
		{domain.SortByVolume, domain.Ascending, []string{"A", "C", "B"}},
		{domain.SortByPrice, domain.Descending, []string{"A", "C", "B"}},
		{domain.SortByPriceChangePercent, domain.Descending, []string{"B", "C", "A"}},
		{domain.SortBySymbol, domain.Ascending, []string{"A", "B", "C"}},
		{domain.SortBySymbol, domain.Descending, []string{"C", "B", "A"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.field, tt.dir), func(t *testing.T) {
			got := symbols(s.Project(domain.FilterSortSpec{SortField: tt.field, SortDirection: tt.dir}))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_ProjectDeterministicTies(t *testing.T) {
	s := newTestStore()
	for _, sym := range []string{"X1", "X2", "X3", "X4"} {
		s.Merge(domain.TickerUpdate{Symbol: sym, Volume: domain.Float(5)})
	}
	spec := domain.DefaultFilterSortSpec()

	first := symbols(s.Project(spec))
	second := symbols(s.Project(spec))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("projection not deterministic: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(first, []string{"X1", "X2", "X3", "X4"}) {
		t.Errorf("ties should keep first-seen order, got %v", first)
	}
}

func TestStore_ProjectReturnsCopies(t *testing.T) {
	s := newTestStore()
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(1)})

	rows := s.Project(domain.DefaultFilterSortSpec())
	rows[0].Price = 999
	rows[0].RecentPrices[0] = 999

	got, _ := s.Get("BTCUSDT")
	if got.Price != 1 || got.RecentPrices[0] != 1 {
		t.Errorf("projection leaked internal state: %+v", got)
	}
}

func TestStore_LoadSnapshotSeedsSparkline(t *testing.T) {
	s := newTestStore()
	n := s.LoadSnapshot([]domain.Ticker{
		{Symbol: "BTCUSDT", Price: 42000, Volume: 1},
		{Symbol: "ETHUSDT", Price: 2200, Volume: 2},
	})
	if n != 2 {
		t.Errorf("expected 2 changes, got %d", n)
	}
	got, _ := s.Get("ETHUSDT")
	if !reflect.DeepEqual(got.RecentPrices, []float64{2200}) {
		t.Errorf("expected sparkline [2200], got %v", got.RecentPrices)
	}
}

func TestStore_ReplaceRecentPrices(t *testing.T) {
	s := newTestStore()
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(5)})

	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = float64(i)
	}
	if !s.ReplaceRecentPrices("BTCUSDT", closes) {
		t.Fatal("expected replace on known symbol")
	}
	got, _ := s.Get("BTCUSDT")
	if len(got.RecentPrices) != domain.RecentPricesCap || got.RecentPrices[0] != 40 || got.RecentPrices[59] != 99 {
		t.Errorf("unexpected sparkline after replace: len=%d %v", len(got.RecentPrices), got.RecentPrices)
	}

	if s.ReplaceRecentPrices("NOPE", closes) {
		t.Error("unknown symbol must be ignored")
	}
}

func TestStore_ResetAndDirty(t *testing.T) {
	s := newTestStore()
	s.SetUniverse(map[string]struct{}{"B": {}, "A": {}})
	s.Merge(domain.TickerUpdate{Symbol: "B", Price: domain.Float(1)})
	s.Merge(domain.TickerUpdate{Symbol: "A", Price: domain.Float(1)})

	if got := s.DrainDirty(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected sorted dirty set [A B], got %v", got)
	}
	if got := s.DrainDirty(); got != nil {
		t.Errorf("second drain should be empty, got %v", got)
	}

	s.Reset()
	if s.Len() != 0 || s.Restricted() {
		t.Errorf("reset must clear records and universe: len=%d restricted=%v", s.Len(), s.Restricted())
	}
}

func TestStore_WatchCoalesces(t *testing.T) {
	s := newTestStore()
	id, ch := s.Watch()

	for i := 0; i < 10; i++ {
		s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(float64(i))})
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce into one")
	default:
	}

	// No-op merges do not notify.
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(9)})
	select {
	case <-ch:
		t.Error("no-op merge must not notify")
	default:
	}

	s.Unwatch(id)
	s.Merge(domain.TickerUpdate{Symbol: "BTCUSDT", Price: domain.Float(100)})
	select {
	case <-ch:
		t.Error("unwatched channel must not be notified")
	default:
	}
}

func TestStore_ConcurrentMergeAndProject(t *testing.T) {
	s := NewStore()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			s.Merge(domain.TickerUpdate{
				Symbol: fmt.Sprintf("S%d", i%50),
				Price:  domain.Float(float64(i)),
				Volume: domain.Float(float64(i)),
			})
		}
	}()

	for {
		select {
		case <-done:
			if s.Len() != 50 {
				t.Errorf("expected 50 records, got %d", s.Len())
			}
			return
		default:
			for _, row := range s.Project(domain.DefaultFilterSortSpec()) {
				// A fully applied merge sets price and volume together.
				if row.Price != row.Volume {
					t.Fatalf("observed partially applied merge: %+v", row)
				}
			}
		}
	}
}
