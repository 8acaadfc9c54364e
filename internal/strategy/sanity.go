package strategy

import "strings"

// priceBand is the plausible trading range for a symbol family. A reference
// price outside its band means a venue most likely answered with another
// market's data, so sizing against it would hedge the wrong notional.
type priceBand struct {
	low, high float64
}

var priceBands = map[string]priceBand{
	"SOL": {low: 10, high: 500},
	"ETH": {low: 1_000, high: 10_000},
	"BTC": {low: 20_000, high: 200_000},
}

// priceWithinBand reports whether price is plausible for symbol. Symbols
// outside the known families pass unchecked.
func priceWithinBand(symbol string, price float64) bool {
	upper := strings.ToUpper(symbol)
	for base, band := range priceBands {
		if strings.Contains(upper, base) {
			return price > band.low && price < band.high
		}
	}
	return true
}
