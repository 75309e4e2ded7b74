package domain

import "time"

// RecentPricesCap is the capacity of every ticker's sparkline buffer.
const RecentPricesCap = 60

// Ticker is the latest known 24h state of one symbol.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChange        float64   `json:"priceChange"`
	PriceChangePercent float64   `json:"priceChangePercent"`
	Volume             float64   `json:"volume"`
	QuoteVolume        float64   `json:"quoteVolume"`
	RecentPrices       []float64 `json:"recentPrices"` // oldest first, len <= RecentPricesCap
	LastUpdate         time.Time `json:"lastUpdate"`
}

// TickerUpdate is a partial ticker. Nil fields are not touched by a merge.
type TickerUpdate struct {
	Symbol             string   `json:"s"`
	Price              *float64 `json:"c,omitempty"`
	PriceChange        *float64 `json:"p,omitempty"`
	PriceChangePercent *float64 `json:"P,omitempty"`
	Volume             *float64 `json:"v,omitempty"`
	QuoteVolume        *float64 `json:"q,omitempty"`
}

// Float returns a pointer to v, for building partial updates.
func Float(v float64) *float64 {
	return &v
}

// FullUpdate builds an update touching every numeric field of t.
func FullUpdate(t Ticker) TickerUpdate {
	return TickerUpdate{
		Symbol:             t.Symbol,
		Price:              Float(t.Price),
		PriceChange:        Float(t.PriceChange),
		PriceChangePercent: Float(t.PriceChangePercent),
		Volume:             Float(t.Volume),
		QuoteVolume:        Float(t.QuoteVolume),
	}
}

// Empty reports whether the update touches no field.
func (u TickerUpdate) Empty() bool {
	return u.Price == nil && u.PriceChange == nil && u.PriceChangePercent == nil &&
		u.Volume == nil && u.QuoteVolume == nil
}

// PriceHistory is a fixed-capacity ring of recent prices.
// Zero value is ready to use. Push evicts the oldest entry once full.
type PriceHistory struct {
	prices [RecentPricesCap]float64
	head   int // next write position
	count  int
}

// Push appends p, evicting the oldest price when the ring is full.
func (h *PriceHistory) Push(p float64) {
	h.prices[h.head] = p
	h.head = (h.head + 1) % RecentPricesCap
	if h.count < RecentPricesCap {
		h.count++
	}
}

// Replace drops the current contents and keeps the last RecentPricesCap of ps.
func (h *PriceHistory) Replace(ps []float64) {
	h.head, h.count = 0, 0
	if len(ps) > RecentPricesCap {
		ps = ps[len(ps)-RecentPricesCap:]
	}
	for _, p := range ps {
		h.Push(p)
	}
}

// Len returns the number of stored prices.
func (h *PriceHistory) Len() int { return h.count }

// Values copies the prices out, oldest first.
func (h *PriceHistory) Values() []float64 {
	out := make([]float64, h.count)
	start := (h.head - h.count + RecentPricesCap) % RecentPricesCap
	for i := 0; i < h.count; i++ {
		out[i] = h.prices[(start+i)%RecentPricesCap]
	}
	return out
}
