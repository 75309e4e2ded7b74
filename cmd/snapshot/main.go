// Command snapshot fetches one REST ticker snapshot and prints the
// projected table without opening any stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"screener_go/internal/domain"
	"screener_go/internal/infra"
	"screener_go/internal/infra/binance"
	"screener_go/internal/screener"
	"screener_go/internal/view"
)

func main() {
	segment := flag.String("segment", "", "market segment (spot|futures), defaults to the configured one")
	top := flag.Int("top", 20, "number of rows to print (0 prints all)")
	sortBy := flag.String("sort", "volume", "sort field")
	dir := flag.String("dir", "desc", "sort direction (asc|desc)")
	query := flag.String("q", "", "symbol search")
	flag.Parse()

	if err := run(*segment, *top, *sortBy, *dir, *query); err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}
}

func run(segment string, top int, sortBy, dir, query string) error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		slog.Warn("Config not loaded, using defaults", slog.Any("error", err))
		if cfg, err = infra.ParseConfig(nil); err != nil {
			return err
		}
	}
	slog.SetDefault(infra.NewLogger(cfg))

	if segment == "" {
		segment = cfg.Market.Segment
	}
	seg, err := domain.ParseSegment(segment)
	if err != nil {
		return err
	}
	field, err := domain.ParseSortField(sortBy)
	if err != nil {
		return err
	}
	direction, err := domain.ParseSortDirection(dir)
	if err != nil {
		return err
	}

	history := binance.NewHistoryClient(binance.HistoryConfig{
		RestBase: map[domain.Segment]string{
			domain.SegmentSpot:    cfg.Binance.Spot.RestURL,
			domain.SegmentFutures: cfg.Binance.Futures.RestURL,
		},
		Timeout:    time.Duration(cfg.HTTP.TimeoutSec) * time.Second,
		RatePerSec: cfg.HTTP.RatePerSec,
		Burst:      cfg.HTTP.Burst,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := screener.NewStore()
	if n := store.LoadSnapshot(history.FetchSnapshot(ctx, seg)); n == 0 {
		return fmt.Errorf("no tickers received for %s", seg)
	}

	rows := store.Project(domain.FilterSortSpec{SearchQuery: query, SortField: field, SortDirection: direction})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	fmt.Printf("%s: %d of %d symbols\n\n", seg, len(rows), store.Len())
	return view.WriteTable(os.Stdout, rows)
}
