package infra

import (
	"fmt"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with the active market settings
func PrintBanner(cfg *Config) {
	segment := strings.ToUpper(cfg.Market.Segment)

	color := ColorCyan
	segDesc := "SPOT MARKET"
	if segment == "FUTURES" {
		color = ColorYellow
		segDesc = "USD-M PERPETUAL FUTURES"
	}

	api := cfg.API.Addr
	if api == "" {
		api = "disabled"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#               📈 Screener Go Market Monitor             #%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#   SEGMENT:  %-35s #%s\n", color, segment, ColorReset)
	fmt.Printf("%s#   TYPE:     %-35s #%s\n", color, segDesc, ColorReset)
	fmt.Printf("%s#   INTERVAL: %-35s #%s\n", color, cfg.Market.Interval, ColorReset)
	fmt.Printf("%s#   API:      %-35s #%s\n", color, api, ColorReset)
	fmt.Printf("%s#   VERSION:  %-35s #%s\n", color, cfg.App.Version, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Println()
}
