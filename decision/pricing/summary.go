package pricing

import (
	"github.com/shopspring/decimal"

	"sow-pricing/pkg/money"
)

// Summary holds the totals of a pricing table. It is always derived from a
// Table and never stored on its own.
type Summary struct {
	Currency                string          `json:"currency"`
	SubtotalExGst           decimal.Decimal `json:"subtotalExGst"`
	DiscountPercent         float64         `json:"discountPercent"`
	DiscountAmount          decimal.Decimal `json:"discountAmount"`
	DiscountedSubtotalExGst decimal.Decimal `json:"discountedSubtotalExGst"`
	GstPercent              float64         `json:"gstPercent"`
	GstAmount               decimal.Decimal `json:"gstAmount"`
	TotalIncGst             decimal.Decimal `json:"totalIncGst"`
}

// ComputeSummary totals a table. Negative hours and rates count as zero and
// both percentages are clamped to [0, 100]. Every money value is rounded to
// cents.
func ComputeSummary(t Table) Summary {
	subtotal := Subtotal(t.Rows)
	discountPct := money.ClampPercent(t.DiscountPercent)
	gstPct := money.ClampPercent(t.GstPercent)

	discount := money.Percent(subtotal, discountPct)
	discounted := money.Round2(subtotal.Sub(discount))
	gst := money.Percent(discounted, gstPct)

	return Summary{
		Currency:                t.Currency,
		SubtotalExGst:           subtotal,
		DiscountPercent:         discountPct,
		DiscountAmount:          discount,
		DiscountedSubtotalExGst: discounted,
		GstPercent:              gstPct,
		GstAmount:               gst,
		TotalIncGst:             money.Round2(discounted.Add(gst)),
	}
}

// Subtotal is Σ hours × rate over rows, rounded to cents.
func Subtotal(rows []Row) decimal.Decimal {
	return money.Round2(sumRows(rows, nil))
}

func sumRows(rows []Row, include func(int) bool) decimal.Decimal {
	total := decimal.Zero
	for i, r := range rows {
		if include != nil && !include(i) {
			continue
		}
		total = total.Add(LineAmount(r))
	}
	return total
}

// LineAmount is hours × rate for one row, unrounded.
func LineAmount(r Row) decimal.Decimal {
	return money.FromFloat(money.NonNegative(r.Hours)).Mul(money.FromFloat(money.NonNegative(r.BaseRate)))
}

// CombineSummaries adds several summaries into one. Percentages carry over
// only when every summary agrees on them; otherwise they are zero.
func CombineSummaries(ss []Summary) Summary {
	var out Summary
	for i, s := range ss {
		if i == 0 {
			out.Currency = s.Currency
			out.DiscountPercent = s.DiscountPercent
			out.GstPercent = s.GstPercent
		} else {
			if s.DiscountPercent != out.DiscountPercent {
				out.DiscountPercent = 0
			}
			if s.GstPercent != out.GstPercent {
				out.GstPercent = 0
			}
		}
		out.SubtotalExGst = out.SubtotalExGst.Add(s.SubtotalExGst)
		out.DiscountAmount = out.DiscountAmount.Add(s.DiscountAmount)
		out.DiscountedSubtotalExGst = out.DiscountedSubtotalExGst.Add(s.DiscountedSubtotalExGst)
		out.GstAmount = out.GstAmount.Add(s.GstAmount)
		out.TotalIncGst = out.TotalIncGst.Add(s.TotalIncGst)
	}
	return out
}
