package domain

import "fmt"

// Segment is a market partition with its own endpoints and symbol universe.
type Segment string

const (
	SegmentSpot    Segment = "spot"
	SegmentFutures Segment = "futures"
)

// ParseSegment validates a segment name.
func ParseSegment(s string) (Segment, error) {
	switch Segment(s) {
	case SegmentSpot, SegmentFutures:
		return Segment(s), nil
	}
	return "", fmt.Errorf("unknown segment %q", s)
}

// Interval is a candle interval in exchange notation ("1m", "1h", ...).
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalSeconds = map[Interval]int64{
	Interval1m:  60,
	Interval5m:  5 * 60,
	Interval15m: 15 * 60,
	Interval1h:  60 * 60,
	Interval4h:  4 * 60 * 60,
	Interval1d:  24 * 60 * 60,
}

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	if _, ok := intervalSeconds[Interval(s)]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return Interval(s), nil
}

// Seconds returns the interval step, or 0 for an unknown interval.
func (i Interval) Seconds() int64 {
	return intervalSeconds[i]
}
