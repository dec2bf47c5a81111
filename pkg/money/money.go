// Package money provides cent rounding, percent clamping and display
// formatting for quote amounts.
package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the only currency quotes are issued in.
const DefaultCurrency = "AUD"

var hundred = decimal.NewFromInt(100)

// FromFloat converts a float to a decimal, mapping NaN and infinities to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// Round2 rounds a money value to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round2Float rounds a float money value to cents.
func Round2Float(f float64) float64 {
	return Round2(FromFloat(f)).InexactFloat64()
}

// NonNegative returns f, or 0 when f is negative or not finite.
func NonNegative(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// ClampPercent keeps a percentage within [0, 100]. Non-finite input is 0.
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, -1) {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Percent returns base × pct/100 rounded to cents.
func Percent(base decimal.Decimal, pct float64) decimal.Decimal {
	return Round2(base.Mul(FromFloat(pct)).Div(hundred))
}

// FormatWhole renders an amount as currency with no decimals and thousands
// separators, e.g. "$12,345". Internal math stays at cent precision.
func FormatWhole(d decimal.Decimal) string {
	rounded := d.Round(0)
	neg := rounded.IsNegative()
	digits := rounded.Abs().StringFixed(0)

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteByte('$')
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FormatPercent renders a percentage without trailing zeros: 7.5 -> "7.5", 10 -> "10".
func FormatPercent(p float64) string {
	return FromFloat(p).Round(4).String()
}

// FormatHours renders an hours value with at most two decimals.
func FormatHours(h float64) string {
	return FromFloat(h).Round(2).String()
}
