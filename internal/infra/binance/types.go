package binance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"screener_go/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	exchangeName = "BINANCE"

	// Klines beyond this are rejected by the exchange.
	maxKlineLimit = 1500
)

// flexFloat accepts both quoted decimal strings ("0.00123") and bare JSON
// numbers. Values are parsed exactly with decimal before narrowing to float64.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", b, err)
	}
	f.v = d.InexactFloat64()
	f.ok = true
	return nil
}

// ptr returns nil for an absent field so it stays untouched on merge.
func (f flexFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

// rawObject keeps exact keys. encoding/json folds case when matching struct
// fields, which breaks payloads that use both "t" and "T" or "v" and "V".
type rawObject map[string]json.RawMessage

func decodeObject(b []byte) (rawObject, error) {
	var obj rawObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not an object")
	}
	return obj, nil
}

// num returns the first key present, in order. A present but unparsable
// value is an error.
func (o rawObject) num(keys ...string) (flexFloat, error) {
	for _, k := range keys {
		raw, ok := o[k]
		if !ok {
			continue
		}
		var f flexFloat
		if err := json.Unmarshal(raw, &f); err != nil {
			return flexFloat{}, fmt.Errorf("field %s: %w", k, err)
		}
		if f.ok {
			return f, nil
		}
	}
	return flexFloat{}, nil
}

func (o rawObject) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := o[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// tickerField maps a ticker column to the keys that may carry it.
type tickerField struct {
	dst  func(*domain.TickerUpdate) **float64
	keys []string
}

var (
	// !miniTicker@arr elements
	miniTickerFields = []tickerField{
		{func(u *domain.TickerUpdate) **float64 { return &u.Price }, []string{"c"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.PriceChange }, []string{"p"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.PriceChangePercent }, []string{"P"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.Volume }, []string{"v"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.QuoteVolume }, []string{"q"}},
	}

	// GET /ticker/24hr rows, long names first
	snapshotFields = []tickerField{
		{func(u *domain.TickerUpdate) **float64 { return &u.Price }, []string{"lastPrice", "c"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.PriceChange }, []string{"priceChange", "p"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.PriceChangePercent }, []string{"priceChangePercent", "P"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.Volume }, []string{"volume", "v"}},
		{func(u *domain.TickerUpdate) **float64 { return &u.QuoteVolume }, []string{"quoteVolume", "q"}},
	}
)

// decodeTickerUpdate builds a partial update; absent columns stay nil.
func decodeTickerUpdate(raw json.RawMessage, symbolKeys []string, fields []tickerField) (domain.TickerUpdate, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return domain.TickerUpdate{}, err
	}

	u := domain.TickerUpdate{Symbol: obj.str(symbolKeys...)}
	if u.Symbol == "" {
		return domain.TickerUpdate{}, fmt.Errorf("missing symbol")
	}
	for _, f := range fields {
		v, err := obj.num(f.keys...)
		if err != nil {
			return domain.TickerUpdate{}, err
		}
		*f.dst(&u) = v.ptr()
	}
	return u, nil
}

// decodeMiniTicker decodes one element of the aggregate ticker array.
func decodeMiniTicker(raw json.RawMessage) (domain.TickerUpdate, error) {
	return decodeTickerUpdate(raw, []string{"s"}, miniTickerFields)
}

// decodeSnapshotRow decodes one row of the 24h snapshot. Missing columns are zero.
func decodeSnapshotRow(raw json.RawMessage) (domain.Ticker, error) {
	u, err := decodeTickerUpdate(raw, []string{"symbol", "s"}, snapshotFields)
	if err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Symbol:             u.Symbol,
		Price:              deref(u.Price),
		PriceChange:        deref(u.PriceChange),
		PriceChangePercent: deref(u.PriceChangePercent),
		Volume:             deref(u.Volume),
		QuoteVolume:        deref(u.QuoteVolume),
	}, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// decodeKlineEvent reads the nested "k" object of a kline stream payload.
func decodeKlineEvent(raw json.RawMessage) (domain.Candle, error) {
	obj, err := decodeObject(unwrap(raw))
	if err != nil {
		return domain.Candle{}, err
	}
	k, ok := obj["k"]
	if !ok {
		return domain.Candle{}, fmt.Errorf("no kline in payload")
	}
	kobj, err := decodeObject(k)
	if err != nil {
		return domain.Candle{}, err
	}

	var vals [6]flexFloat
	for i, key := range []string{"t", "o", "h", "l", "c", "v"} {
		if vals[i], err = kobj.num(key); err != nil {
			return domain.Candle{}, err
		}
	}
	if !vals[0].ok {
		return domain.Candle{}, fmt.Errorf("kline without open time")
	}
	return candleFrom(vals), nil
}

// decodeKlineRow reads [openTimeMs, open, high, low, close, volume, ...].
func decodeKlineRow(raw json.RawMessage) (domain.Candle, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return domain.Candle{}, err
	}
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}

	var vals [6]flexFloat
	for i := range vals {
		if err := json.Unmarshal(row[i], &vals[i]); err != nil {
			return domain.Candle{}, err
		}
	}
	if !vals[0].ok {
		return domain.Candle{}, fmt.Errorf("kline row without open time")
	}
	return candleFrom(vals), nil
}

// candleFrom converts [t(ms), o, h, l, c, v] into a candle keyed in seconds.
func candleFrom(vals [6]flexFloat) domain.Candle {
	return domain.Candle{
		OpenTime: int64(vals[0].v) / 1000,
		Open:     vals[1].v,
		High:     vals[2].v,
		Low:      vals[3].v,
		Close:    vals[4].v,
		Volume:   vals[5].v,
	}
}

// combinedEnvelope wraps payloads on the /stream?streams= endpoint.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// unwrap strips a combined-stream envelope if present.
func unwrap(frame json.RawMessage) json.RawMessage {
	var env combinedEnvelope
	if err := json.Unmarshal(frame, &env); err == nil && env.Stream != "" && len(env.Data) > 0 {
		return env.Data
	}
	return frame
}

// exchangeInfo is the subset of GET /exchangeInfo used for the symbol universe.
type exchangeInfo struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}
