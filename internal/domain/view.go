package domain

import "fmt"

// SortField selects the ticker column used for ordering.
type SortField string

const (
	SortByVolume             SortField = "volume"
	SortByPriceChangePercent SortField = "priceChangePercent"
	SortByPrice              SortField = "price"
	SortBySymbol             SortField = "symbol"
)

// ParseSortField accepts the field names plus "priceChange" as an alias
// for the percent column.
func ParseSortField(s string) (SortField, error) {
	switch s {
	case string(SortByVolume), string(SortByPrice), string(SortBySymbol), string(SortByPriceChangePercent):
		return SortField(s), nil
	case "priceChange":
		return SortByPriceChangePercent, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// SortDirection is ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// ParseSortDirection validates a direction name.
func ParseSortDirection(s string) (SortDirection, error) {
	switch SortDirection(s) {
	case Ascending, Descending:
		return SortDirection(s), nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// Flip returns the opposite direction.
func (d SortDirection) Flip() SortDirection {
	if d == Ascending {
		return Descending
	}
	return Ascending
}

// FilterSortSpec is the full input of a ticker projection besides the store itself.
type FilterSortSpec struct {
	SearchQuery   string        `json:"search"`
	SortField     SortField     `json:"sort"`
	SortDirection SortDirection `json:"direction"`
}

// DefaultFilterSortSpec sorts by volume, largest first.
func DefaultFilterSortSpec() FilterSortSpec {
	return FilterSortSpec{SortField: SortByVolume, SortDirection: Descending}
}
