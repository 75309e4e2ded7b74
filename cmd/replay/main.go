// Command replay rebuilds the ticker table from a recorded event journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"screener_go/backtest"
	"screener_go/internal/domain"
	"screener_go/internal/infra"
	"screener_go/internal/view"
)

func main() {
	dbPath := flag.String("db", "", "journal path, defaults to the configured one")
	session := flag.String("session", "", "session id (defaults to the latest)")
	list := flag.Bool("list", false, "list recorded sessions and exit")
	top := flag.Int("top", 20, "number of rows to print (0 prints all)")
	sortBy := flag.String("sort", "volume", "sort field")
	dir := flag.String("dir", "desc", "sort direction (asc|desc)")
	query := flag.String("q", "", "symbol search")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *dbPath, *session, *list, *top, *sortBy, *dir, *query); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath, session string, list bool, top int, sortBy, dir, query string) error {
	if dbPath == "" {
		cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
		if err != nil {
			return err
		}
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal disabled in config, pass -db")
		}
		dbPath = infra.ResolveDataPath(cfg.Journal.Path)
	}

	field, err := domain.ParseSortField(sortBy)
	if err != nil {
		return err
	}
	direction, err := domain.ParseSortDirection(dir)
	if err != nil {
		return err
	}

	r, err := backtest.NewReplayer(dbPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if list {
		sessions, err := r.Sessions(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tSEGMENT\tSTARTED\tEVENTS")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Segment, s.StartedAt.Format(time.RFC3339), s.Events)
		}
		return tw.Flush()
	}

	if session == "" {
		if session, err = r.Latest(ctx); err != nil {
			return err
		}
	}

	store, err := r.Rebuild(ctx, session)
	if err != nil {
		return err
	}

	rows := store.Project(domain.FilterSortSpec{SearchQuery: query, SortField: field, SortDirection: direction})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	fmt.Printf("session %s: %d of %d symbols\n\n", session, len(rows), store.Len())
	return view.WriteTable(os.Stdout, rows)
}
