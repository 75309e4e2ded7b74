// Package view holds the user-facing screener settings and turns them into
// store projections and chart selections.
package view

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"screener_go/internal/chart"
	"screener_go/internal/domain"
)

// Projector is the read side of the ticker store.
type Projector interface {
	Project(spec domain.FilterSortSpec) []domain.Ticker
}

// Chart is the part of the candle controller the view drives.
type Chart interface {
	Select(ctx context.Context, sel chart.Selection) error
	SetInterval(ctx context.Context, iv domain.Interval) error
	Clear()
	Selection() (chart.Selection, bool)
	State() chart.State
	Series() []domain.Candle
}

// SegmentSwitcher swaps the ticker feed and store over to seg.
type SegmentSwitcher func(ctx context.Context, seg domain.Segment) error

// Snapshot is the serializable view state.
type Snapshot struct {
	Search        string               `json:"search"`
	SortField     domain.SortField     `json:"sort"`
	SortDirection domain.SortDirection `json:"direction"`
	DarkMode      bool                 `json:"dark_mode"`
	Segment       domain.Segment       `json:"segment"`
	Interval      domain.Interval      `json:"interval"`
	Selected      string               `json:"selected,omitempty"`
	ChartState    chart.State          `json:"chart_state"`
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	Search    *string `json:"search,omitempty"`
	Sort      *string `json:"sort,omitempty"`
	Direction *string `json:"direction,omitempty"`
	Flip      *bool   `json:"flip_direction,omitempty"`
	DarkMode  *bool   `json:"dark_mode,omitempty"`
	Interval  *string `json:"interval,omitempty"`
	Segment   *string `json:"segment,omitempty"`
}

// Options seeds a new State.
type Options struct {
	Spec          domain.FilterSortSpec
	DarkMode      bool
	Segment       domain.Segment
	Interval      domain.Interval
	SwitchSegment SegmentSwitcher
}

// State is safe for concurrent use. It owns no market data.
type State struct {
	store Projector
	chart Chart

	switchSegment SegmentSwitcher

	opMu sync.Mutex // serializes segment, interval and selection changes

	mu       sync.RWMutex
	spec     domain.FilterSortSpec
	dark     bool
	segment  domain.Segment
	interval domain.Interval
}

// New creates a view over store and chart.
func New(store Projector, ch Chart, opts Options) *State {
	if opts.Spec.SortField == "" {
		opts.Spec = domain.DefaultFilterSortSpec()
	}
	if opts.Segment == "" {
		opts.Segment = domain.SegmentSpot
	}
	if opts.Interval == "" {
		opts.Interval = domain.Interval1m
	}
	return &State{
		store:         store,
		chart:         ch,
		switchSegment: opts.SwitchSegment,
		spec:          opts.Spec,
		dark:          opts.DarkMode,
		segment:       opts.Segment,
		interval:      opts.Interval,
	}
}

// Spec returns the current filter and sort.
func (v *State) Spec() domain.FilterSortSpec {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.spec
}

// Rows projects the store through the current spec. limit <= 0 means all rows.
func (v *State) Rows(limit int) []domain.Ticker {
	rows := v.store.Project(v.Spec())
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// Snapshot returns the current settings plus the chart selection.
func (v *State) Snapshot() Snapshot {
	v.mu.RLock()
	s := Snapshot{
		Search:        v.spec.SearchQuery,
		SortField:     v.spec.SortField,
		SortDirection: v.spec.SortDirection,
		DarkMode:      v.dark,
		Segment:       v.segment,
		Interval:      v.interval,
	}
	v.mu.RUnlock()

	if sel, ok := v.chart.Selection(); ok {
		s.Selected = sel.Symbol
	}
	s.ChartState = v.chart.State()
	return s
}

// SetSearch sets the symbol filter. Matching is case-insensitive.
func (v *State) SetSearch(q string) {
	v.mu.Lock()
	v.spec.SearchQuery = strings.TrimSpace(q)
	v.mu.Unlock()
}

// SetSort sets the sort field, keeping the direction.
func (v *State) SetSort(field domain.SortField) {
	v.mu.Lock()
	v.spec.SortField = field
	v.mu.Unlock()
}

// SetDirection sets the sort direction.
func (v *State) SetDirection(dir domain.SortDirection) {
	v.mu.Lock()
	v.spec.SortDirection = dir
	v.mu.Unlock()
}

// FlipDirection toggles between ascending and descending.
func (v *State) FlipDirection() domain.SortDirection {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spec.SortDirection = v.spec.SortDirection.Flip()
	return v.spec.SortDirection
}

// SetDarkMode stores the theme flag.
func (v *State) SetDarkMode(on bool) {
	v.mu.Lock()
	v.dark = on
	v.mu.Unlock()
}

// Select opens the chart for symbol on the current segment and interval.
func (v *State) Select(ctx context.Context, symbol string) error {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.mu.RLock()
	sel := chart.Selection{Segment: v.segment, Symbol: symbol, Interval: v.interval}
	v.mu.RUnlock()
	return v.chart.Select(ctx, sel)
}

// ClearSelection closes the chart.
func (v *State) ClearSelection() {
	v.opMu.Lock()
	defer v.opMu.Unlock()
	v.chart.Clear()
}

// SetInterval changes the candle interval and reselects an open chart.
func (v *State) SetInterval(ctx context.Context, iv domain.Interval) error {
	if iv.Seconds() == 0 {
		return fmt.Errorf("unknown interval %q", iv)
	}

	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.mu.Lock()
	same := v.interval == iv
	v.interval = iv
	v.mu.Unlock()
	if same {
		return nil
	}
	return v.chart.SetInterval(ctx, iv)
}

// SetSegment moves the screener to seg. The chart is torn down before the
// switch and, when a symbol was selected, reopened on the new segment.
func (v *State) SetSegment(ctx context.Context, seg domain.Segment) error {
	if _, err := domain.ParseSegment(string(seg)); err != nil {
		return err
	}

	v.opMu.Lock()
	defer v.opMu.Unlock()

	v.mu.RLock()
	cur := v.segment
	iv := v.interval
	v.mu.RUnlock()
	if cur == seg {
		return nil
	}

	prev, selected := v.chart.Selection()
	v.chart.Clear()

	if v.switchSegment != nil {
		if err := v.switchSegment(ctx, seg); err != nil {
			return fmt.Errorf("switch to %s: %w", seg, err)
		}
	}

	v.mu.Lock()
	v.segment = seg
	v.mu.Unlock()

	if selected {
		return v.chart.Select(ctx, chart.Selection{Segment: seg, Symbol: prev.Symbol, Interval: iv})
	}
	return nil
}

// Apply validates every field of p before changing anything.
func (v *State) Apply(ctx context.Context, p Patch) error {
	var (
		field domain.SortField
		dir   domain.SortDirection
		iv    domain.Interval
		seg   domain.Segment
		err   error
	)
	if p.Sort != nil {
		if field, err = domain.ParseSortField(*p.Sort); err != nil {
			return err
		}
	}
	if p.Direction != nil {
		if dir, err = domain.ParseSortDirection(*p.Direction); err != nil {
			return err
		}
	}
	if p.Direction != nil && p.Flip != nil && *p.Flip {
		return fmt.Errorf("direction and flip_direction are exclusive")
	}
	if p.Interval != nil {
		if iv, err = domain.ParseInterval(*p.Interval); err != nil {
			return err
		}
	}
	if p.Segment != nil {
		if seg, err = domain.ParseSegment(*p.Segment); err != nil {
			return err
		}
	}

	if p.Search != nil {
		v.SetSearch(*p.Search)
	}
	if p.Sort != nil {
		v.SetSort(field)
	}
	if p.Direction != nil {
		v.SetDirection(dir)
	}
	if p.Flip != nil && *p.Flip {
		v.FlipDirection()
	}
	if p.DarkMode != nil {
		v.SetDarkMode(*p.DarkMode)
	}
	if p.Interval != nil {
		if err := v.SetInterval(ctx, iv); err != nil {
			return err
		}
	}
	if p.Segment != nil {
		if err := v.SetSegment(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

// Chart exposes the controller for read-only endpoints.
func (v *State) Chart() Chart {
	return v.chart
}
