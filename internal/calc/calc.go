// Package calc holds the arithmetic shared by every connector: guarded ratios,
// fixed-precision rounding, money accumulation and top performer selection.
package calc

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// TopN caps every "top items" list
	TopN = 10
	// OutperformFactor is how far above the window average an item must be
	// to count as a top performer
	OutperformFactor = 1.2
	// microsPerUnit converts micro-currency to currency units
	microsPerUnit = 1_000_000
)

// SafeDiv returns x / y, or 0 when y is zero or the result is not finite
func SafeDiv(x, y float64) float64 {
	if y == 0 {
		return 0
	}
	r := x / y
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Round2 rounds money and decimal ratios to 2 places
func Round2(v float64) float64 {
	return roundTo(v, 2)
}

// Round4 rounds fractions that are displayed as percentages with one decimal
func Round4(v float64) float64 {
	return roundTo(v, 4)
}

func roundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// MicrosToUnits converts a summed micro-currency total once, at the end
func MicrosToUnits(totalMicros int64) float64 {
	f, _ := decimal.New(totalMicros, 0).Div(decimal.New(microsPerUnit, 0)).Round(2).Float64()
	return f
}

// SumDecimalStrings adds money amounts reported as decimal strings without
// float drift. Unparsable entries are skipped.
func SumDecimalStrings(values ...string) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total
}

// ParseFloat parses a numeric string; invalid values count as 0
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseInt parses an integer string, accepting float notation; invalid values count as 0
func ParseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return int64(ParseFloat(s))
}

// AverageOfRates returns the mean of per-item rates. This is deliberately not
// sum(numerators)/sum(denominators): each item weighs the same regardless of size.
func AverageOfRates(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

// TopPerformers keeps the items whose rate is at least OutperformFactor times
// the average rate across all items, sorted by rate descending and capped at
// TopN. Fewer items are returned when fewer qualify; the list is never padded.
// When the average is zero nothing outperforms it and the result is empty.
func TopPerformers[T any](items []T, rate func(T) float64) []T {
	if len(items) == 0 {
		return []T{}
	}

	rates := make([]float64, len(items))
	for i, item := range items {
		rates[i] = rate(item)
	}
	avg := AverageOfRates(rates)
	if avg <= 0 {
		return []T{}
	}

	threshold := avg * OutperformFactor
	type ranked struct {
		item T
		rate float64
	}
	var kept []ranked
	for i, item := range items {
		if rates[i] >= threshold {
			kept = append(kept, ranked{item: item, rate: rates[i]})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].rate > kept[j].rate
	})
	if len(kept) > TopN {
		kept = kept[:TopN]
	}

	out := make([]T, len(kept))
	for i, k := range kept {
		out[i] = k.item
	}
	return out
}

// HeaderInt reads a collection total from a response header, defaulting to 0
// when the header is absent or malformed
func HeaderInt(h http.Header, name string) int64 {
	if h == nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(h.Get(name)), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
