package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"sow-pricing/decision/ratecard"
	"sow-pricing/pkg/money"
)

// Budget fitting defaults.
const (
	DefaultHourIncrement     = 0.5
	DefaultMaxIterations     = 200
	DefaultToleranceFactor   = 0.5
	DefaultFallbackTolerance = 50.0
)

// FitOptions configures FitToTarget.
type FitOptions struct {
	// TargetAfterDiscountExGst is the budget the discounted ex-GST subtotal
	// should land on. Non-positive or non-finite targets leave the table as is.
	TargetAfterDiscountExGst float64
	// MandatoryRoleNames are held fixed while adjustable rows are scaled and
	// never drop below one increment. Nil means DefaultMandatoryRoles.
	MandatoryRoleNames []string
	HourIncrement      float64
	MaxIterations      int
	// ToleranceFactor scales the smallest adjustable step into the
	// convergence band. FallbackTolerance applies when no adjustable row has
	// a positive rate.
	ToleranceFactor   float64
	FallbackTolerance float64
}

func (o FitOptions) withDefaults() FitOptions {
	if o.MandatoryRoleNames == nil {
		o.MandatoryRoleNames = DefaultMandatoryRoles()
	}
	if !(o.HourIncrement > 0) || math.IsInf(o.HourIncrement, 0) {
		o.HourIncrement = DefaultHourIncrement
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if !(o.ToleranceFactor > 0) {
		o.ToleranceFactor = DefaultToleranceFactor
	}
	if !(o.FallbackTolerance > 0) {
		o.FallbackTolerance = DefaultFallbackTolerance
	}
	return o
}

// FitResult is a fitted copy of the input table.
type FitResult struct {
	Table               Table     `json:"pricingTable"`
	Warnings            []Warning `json:"warnings"`
	TargetSubtotalExGst float64   `json:"targetSubtotalExGst"`
	Iterations          int       `json:"iterations"`
	Converged           bool      `json:"converged"`
}

// FitToTarget adjusts row hours so the table's discounted ex-GST subtotal
// approaches the target. Rows keep their identity and order; only hours
// change, in multiples of the hour increment. The input table is not
// modified.
func FitToTarget(in Table, opts FitOptions) FitResult {
	opts = opts.withDefaults()
	t := in.Clone()
	res := FitResult{Table: t}

	target := opts.TargetAfterDiscountExGst
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return res
	}

	denominator := 1 - money.ClampPercent(t.DiscountPercent)/100
	if denominator <= 0 {
		res.Warnings = append(res.Warnings, Warning{Type: WarnDiscountMakesUnscalable})
		return res
	}
	targetSubtotal := money.Round2(decimal.NewFromFloat(target).Div(decimal.NewFromFloat(denominator)))
	res.TargetSubtotalExGst = targetSubtotal.InexactFloat64()

	for i := range t.Rows {
		t.Rows[i].Hours = money.NonNegative(t.Rows[i].Hours)
	}

	mandatory := mandatoryKeys(opts.MandatoryRoleNames)
	fixed := make([]bool, len(t.Rows))
	for i, r := range t.Rows {
		fixed[i] = mandatory[ratecard.NormalizeRoleKey(r.Role)]
	}
	isFixed := func(i int) bool { return fixed[i] }
	isAdjustable := func(i int) bool { return !fixed[i] }

	current := sumRows(t.Rows, nil)
	if current.IsZero() {
		res.Warnings = append(res.Warnings, Warning{Type: WarnCannotScaleZeroSubtotal, Target: res.TargetSubtotalExGst})
		return res
	}

	fixedSubtotal := sumRows(t.Rows, isFixed)
	adjustableSubtotal := sumRows(t.Rows, isAdjustable)

	scaleAll := adjustableSubtotal.IsZero()
	var factor decimal.Decimal
	if !scaleAll {
		remaining := targetSubtotal.Sub(fixedSubtotal)
		if remaining.LessThanOrEqual(decimal.Zero) {
			res.Warnings = append(res.Warnings, Warning{
				Type:      WarnBudgetBelowMandatoryCost,
				Target:    res.TargetSubtotalExGst,
				Mandatory: money.Round2(fixedSubtotal).InexactFloat64(),
			})
			scaleAll = true
		} else {
			factor = remaining.Div(adjustableSubtotal)
		}
	}
	if scaleAll {
		factor = targetSubtotal.Div(current)
	}

	f := factor.InexactFloat64()
	for i := range t.Rows {
		if scaleAll || !fixed[i] {
			t.Rows[i].Hours = roundToIncrement(t.Rows[i].Hours*f, opts.HourIncrement)
		}
	}

	for i := range t.Rows {
		if fixed[i] && t.Rows[i].Hours < opts.HourIncrement {
			t.Rows[i].Hours = opts.HourIncrement
		}
	}

	// Rows the refinement loop may touch.
	eligible := func(i int) bool { return scaleAll || !fixed[i] }
	tolerance := fitTolerance(t.Rows, eligible, opts)

	for res.Iterations < opts.MaxIterations {
		diff := targetSubtotal.Sub(sumRows(t.Rows, nil))
		if diff.Abs().LessThanOrEqual(tolerance) {
			res.Converged = true
			break
		}

		var pick int
		if diff.IsPositive() {
			pick = largestRow(t.Rows, func(i int) bool {
				return eligible(i) && t.Rows[i].BaseRate > 0
			})
			if pick < 0 {
				break
			}
			t.Rows[pick].Hours = roundHours(t.Rows[pick].Hours + opts.HourIncrement)
		} else {
			pick = largestRow(t.Rows, func(i int) bool {
				return eligible(i) && t.Rows[i].BaseRate > 0 && t.Rows[i].Hours > opts.HourIncrement
			})
			if pick < 0 {
				break
			}
			t.Rows[pick].Hours = roundHours(t.Rows[pick].Hours - opts.HourIncrement)
		}
		res.Iterations++
	}

	if !res.Converged && res.Iterations >= opts.MaxIterations {
		diff := targetSubtotal.Sub(sumRows(t.Rows, nil))
		if diff.Abs().GreaterThan(tolerance) {
			res.Warnings = append(res.Warnings, Warning{
				Type:       WarnBudgetTweakMaxIterations,
				Target:     res.TargetSubtotalExGst,
				Subtotal:   Subtotal(t.Rows).InexactFloat64(),
				Iterations: res.Iterations,
			})
		} else {
			res.Converged = true
		}
	}

	res.Table = t
	return res
}

// fitTolerance is half of the smallest single-increment step among eligible
// rows with a positive rate, or the fallback when there is none.
func fitTolerance(rows []Row, eligible func(int) bool, opts FitOptions) decimal.Decimal {
	minRate := 0.0
	for i, r := range rows {
		if !eligible(i) || r.BaseRate <= 0 {
			continue
		}
		if minRate == 0 || r.BaseRate < minRate {
			minRate = r.BaseRate
		}
	}
	if minRate == 0 {
		return decimal.NewFromFloat(opts.FallbackTolerance)
	}
	return decimal.NewFromFloat(minRate * opts.HourIncrement * opts.ToleranceFactor)
}

// largestRow returns the index of the row with the most hours among those
// accepted by ok, preferring the earliest on ties, or -1.
func largestRow(rows []Row, ok func(int) bool) int {
	best := -1
	for i, r := range rows {
		if !ok(i) {
			continue
		}
		if best < 0 || r.Hours > rows[best].Hours {
			best = i
		}
	}
	return best
}

func mandatoryKeys(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		if k := ratecard.NormalizeRoleKey(n); k != "" {
			out[k] = true
		}
	}
	return out
}

func roundToIncrement(h, inc float64) float64 {
	if inc <= 0 {
		return roundHours(h)
	}
	return roundHours(math.Round(h/inc) * inc)
}

// roundHours drops float noise left by repeated increments.
func roundHours(h float64) float64 {
	return math.Round(h*1e6) / 1e6
}
