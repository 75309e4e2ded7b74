package domain

import (
	"fmt"
	"strings"
)

// FeedKind tags which stream a Subscription refers to.
type FeedKind int

const (
	FeedAggregateTicker FeedKind = iota + 1
	FeedCandle
)

func (k FeedKind) String() string {
	switch k {
	case FeedAggregateTicker:
		return "AGGREGATE_TICKER"
	case FeedCandle:
		return "CANDLE"
	default:
		return "UNKNOWN"
	}
}

// Subscription identifies one logical stream slot. Symbol and Interval are
// only set for FeedCandle; build values with the constructors.
type Subscription struct {
	Kind     FeedKind
	Segment  Segment
	Symbol   string
	Interval Interval
}

// AggregateTickerSubscription is the wildcard mini-ticker stream of a segment.
func AggregateTickerSubscription(seg Segment) Subscription {
	return Subscription{Kind: FeedAggregateTicker, Segment: seg}
}

// CandleSubscription is the candle stream of one symbol and interval.
func CandleSubscription(seg Segment, symbol string, iv Interval) Subscription {
	return Subscription{
		Kind:     FeedCandle,
		Segment:  seg,
		Symbol:   strings.ToUpper(symbol),
		Interval: iv,
	}
}

// StreamName is the exchange stream path for the subscription.
func (s Subscription) StreamName() string {
	switch s.Kind {
	case FeedAggregateTicker:
		return "!miniTicker@arr"
	case FeedCandle:
		return strings.ToLower(s.Symbol) + "@kline_" + string(s.Interval)
	}
	return ""
}

func (s Subscription) String() string {
	if s.Kind == FeedCandle {
		return fmt.Sprintf("%s/%s/%s/%s", s.Kind, s.Segment, s.Symbol, s.Interval)
	}
	return fmt.Sprintf("%s/%s", s.Kind, s.Segment)
}
