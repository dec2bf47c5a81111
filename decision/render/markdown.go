// Package render turns pricing tables into the markdown embedded in a
// statement of work.
package render

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"sow-pricing/decision/pricing"
	"sow-pricing/pkg/money"
)

// TBC is shown in place of money for rows without a rate card rate.
const TBC = "TBC"

// Section is one titled table in a multi-scope document.
type Section struct {
	Heading string
	Table   pricing.Table
	// Target annotates the totals block when set.
	Target *float64
}

// Table renders a pricing table followed by its totals block.
func Table(t pricing.Table, target *float64) string {
	var sb strings.Builder
	writeTable(&sb, t)
	sb.WriteString("\n")
	writeTotals(&sb, pricing.ComputeSummary(t), target)
	return sb.String()
}

// Totals renders only the totals block for a summary.
func Totals(s pricing.Summary, target *float64) string {
	var sb strings.Builder
	writeTotals(&sb, s, target)
	return sb.String()
}

// Document renders each section under a level-one heading. A combined
// totals block is appended when combined is non-nil.
func Document(sections []Section, combined *pricing.Summary) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		heading := strings.TrimSpace(s.Heading)
		if heading == "" {
			heading = s.Table.Title
		}
		fmt.Fprintf(&sb, "# %s\n\n", inline(heading))
		sb.WriteString(Table(s.Table, s.Target))
	}
	if combined != nil {
		sb.WriteString("\n# Combined totals\n\n")
		writeTotals(&sb, *combined, nil)
	}
	return sb.String()
}

func writeTable(sb *strings.Builder, t pricing.Table) {
	sb.WriteString("| Role | Description | Hours | Rate | Amount |\n")
	sb.WriteString("|------|-------------|------:|-----:|-------:|\n")
	for _, r := range t.Rows {
		rate, amount := TBC, TBC
		if r.BaseRate > 0 {
			rate = money.FormatWhole(money.FromFloat(r.BaseRate))
			amount = money.FormatWhole(money.Round2(pricing.LineAmount(r)))
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %s | %s |\n",
			cell(r.Role), cell(r.Description), money.FormatHours(money.NonNegative(r.Hours)), rate, amount)
	}
}

func writeTotals(sb *strings.Builder, s pricing.Summary, target *float64) {
	fmt.Fprintf(sb, "- Subtotal (ex GST): %s\n", money.FormatWhole(s.SubtotalExGst))
	if s.DiscountPercent > 0 || !s.DiscountAmount.IsZero() {
		fmt.Fprintf(sb, "- Discount:%s (%s)\n",
			percentLabel(s.DiscountPercent, s.DiscountAmount), money.FormatWhole(s.DiscountAmount.Neg()))
	}
	fmt.Fprintf(sb, "- Discounted subtotal (ex GST): %s\n", money.FormatWhole(s.DiscountedSubtotalExGst))
	fmt.Fprintf(sb, "- GST:%s (%s)\n", percentLabel(s.GstPercent, s.GstAmount), money.FormatWhole(s.GstAmount))
	fmt.Fprintf(sb, "- **Total (inc GST): %s**\n", money.FormatWhole(s.TotalIncGst))
	if target != nil && *target > 0 {
		fmt.Fprintf(sb, "- Target (after discount, ex GST): %s\n", money.FormatWhole(money.FromFloat(*target)))
	}
}

// percentLabel is " <p>%", or empty for combined totals whose scopes used
// different percentages.
func percentLabel(pct float64, amount decimal.Decimal) string {
	if pct == 0 && !amount.IsZero() {
		return ""
	}
	return " " + money.FormatPercent(pct) + "%"
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// cell escapes text so it cannot break the table row.
func cell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}

func inline(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s))
}
