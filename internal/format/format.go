// Package format renders normalized metric values for previews and prompt
// summaries.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	thousand = 1_000
	million  = 1_000_000
)

var printer = message.NewPrinter(language.English)

// Percent renders a 0..1 fraction with one decimal, e.g. 0.1234 -> "12.3%"
func Percent(rate float64) string {
	return fixed(rate, 2, 1) + "%"
}

// PercentPrecise renders a 0..1 fraction with two decimals: 0.1234 -> "12.34%"
func PercentPrecise(rate float64) string {
	return fixed(rate, 2, 2) + "%"
}

// Money renders an amount with digit grouping and cents: 12345.6 -> "$12,345.60"
func Money(amount float64) string {
	amount = math.Round(finite(amount)*100) / 100
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole, frac := math.Modf(amount)
	cents := int64(math.Round(frac * 100))
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("%s$%s.%02d", sign, printer.Sprintf("%d", int64(whole)), cents)
}

// Currency renders "$999.99" below a thousand and "$12K" / "$3M" above,
// without decimals
func Currency(amount float64) string {
	amount = finite(amount)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	switch {
	case amount < thousand && math.Round(amount*100)/100 < thousand:
		return fmt.Sprintf("%s$%.2f", sign, amount)
	case math.Round(amount/thousand) < thousand:
		return fmt.Sprintf("%s$%.0fK", sign, math.Round(amount/thousand))
	default:
		return fmt.Sprintf("%s$%.0fM", sign, math.Round(amount/million))
	}
}

// Count renders counts as "999", "1.2K" or "3.4M"
func Count(n int64) string {
	sign := ""
	v := float64(n)
	if v < 0 {
		sign = "-"
		v = -v
	}

	switch {
	case v < thousand:
		return fmt.Sprintf("%s%d", sign, int64(v))
	case math.Round(v/thousand*10)/10 < thousand:
		return fmt.Sprintf("%s%.1fK", sign, math.Round(v/thousand*10)/10)
	default:
		return fmt.Sprintf("%s%.1fM", sign, math.Round(v/million*10)/10)
	}
}

// Number renders a value with locale digit grouping and at most the given
// number of decimals, trailing zeros dropped: 12345.5 -> "12,345.5"
func Number(v float64, decimals int) string {
	v = finite(v)
	if decimals < 0 {
		decimals = 0
	}
	text := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	whole, frac, _ := strings.Cut(text, ".")

	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return text
	}
	out := printer.Sprintf("%d", n)
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		out += "." + frac
	}
	if v < 0 && strings.Trim(out, "0.,") != "" {
		out = "-" + out
	}
	return out
}

// Integer renders a whole number with digit grouping: 12345 -> "12,345"
func Integer(n int64) string {
	return printer.Sprintf("%d", n)
}

// Ratio renders a multiplier such as ROAS: 3.2 -> "3.20x"
func Ratio(v float64) string {
	return fixed(v, 0, 2) + "x"
}

// Days renders a duration in days: 12.25 -> "12.3 days"
func Days(v float64) string {
	return fixed(v, 0, 1) + " days"
}

// Seconds renders a duration in whole seconds, switching to minutes past 90s
func Seconds(v float64) string {
	v = finite(v)
	if v >= 90 {
		return fmt.Sprintf("%dm %02ds", int64(v)/60, int64(v)%60)
	}
	return fixed(v, 0, 0) + "s"
}

// fixed scales v by 10^shift and renders it with the given decimals, halves
// rounded away from zero
func fixed(v float64, shift, places int32) string {
	return decimal.NewFromFloat(finite(v)).Shift(shift).StringFixed(places)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
