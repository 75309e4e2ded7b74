package view

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"screener_go/internal/domain"
)

// WriteTable renders rows as an aligned text table for the CLI tools.
func WriteTable(w io.Writer, rows []domain.Ticker) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tSYMBOL\tPRICE\tCHANGE %\tVOLUME\tQUOTE VOL\tTREND\t")
	for i, t := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%+.2f\t%s\t%s\t%s\t\n",
			i+1, t.Symbol, formatPrice(t.Price), t.PriceChangePercent,
			compact(t.Volume), compact(t.QuoteVolume), trend(t.RecentPrices))
	}
	return tw.Flush()
}

// formatPrice keeps more decimals for small prices.
func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return strconv.FormatFloat(p, 'f', 2, 64)
	case p >= 1:
		return strconv.FormatFloat(p, 'f', 4, 64)
	default:
		return strconv.FormatFloat(p, 'f', 8, 64)
	}
}

func compact(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.2fK", v/1e3)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

// trend compares the last sparkline price with the first.
func trend(prices []float64) string {
	if len(prices) < 2 {
		return "-"
	}
	first, last := prices[0], prices[len(prices)-1]
	switch {
	case last > first:
		return "up"
	case last < first:
		return "down"
	}
	return "flat"
}
