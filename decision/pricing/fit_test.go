package pricing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func twoRowTable() Table {
	return Table{
		Title:           "Fit",
		Currency:        "AUD",
		DiscountPercent: 10,
		GstPercent:      10,
		Rows: []Row{
			{ID: "pm", Role: RoleSeniorPM, Hours: 4, BaseRate: 365},
			{ID: "dev", Role: "Tech - Specialist Developer", Hours: 40, BaseRate: 200},
		},
	}
}

func TestFitConvergesOnTarget(t *testing.T) {
	res := FitToTarget(twoRowTable(), FitOptions{TargetAfterDiscountExGst: 9000})

	sum := ComputeSummary(res.Table)
	got := sum.DiscountedSubtotalExGst.InexactFloat64()
	if got < 8500 || got > 9500 {
		t.Fatalf("discounted subtotal %v outside [8500, 9500]", got)
	}
	if res.Table.Rows[0].Hours <= 0 {
		t.Fatalf("mandatory PM hours dropped to %v", res.Table.Rows[0].Hours)
	}
	if res.TargetSubtotalExGst != 10000 {
		t.Fatalf("expected target subtotal 10000, got %v", res.TargetSubtotalExGst)
	}
	if !res.Converged {
		t.Fatalf("expected convergence, warnings %+v", res.Warnings)
	}
	if res.Table.Rows[0].Hours != 4 {
		t.Fatalf("fixed PM row should keep its hours, got %v", res.Table.Rows[0].Hours)
	}
}

func TestFitDoesNotMutateInput(t *testing.T) {
	in := twoRowTable()
	res := FitToTarget(in, FitOptions{TargetAfterDiscountExGst: 20000})

	if in.Rows[1].Hours != 40 {
		t.Fatalf("input table was mutated: %v", in.Rows[1].Hours)
	}
	if res.Table.Rows[1].ID != "dev" || res.Table.Rows[1].Hours == 40 {
		t.Fatalf("expected fitted dev row, got %+v", res.Table.Rows[1])
	}
}

func TestFitHoursAreIncrements(t *testing.T) {
	res := FitToTarget(twoRowTable(), FitOptions{TargetAfterDiscountExGst: 12345, HourIncrement: 0.25})
	for _, r := range res.Table.Rows {
		if q := r.Hours / 0.25; math.Abs(q-math.Round(q)) > 1e-9 {
			t.Fatalf("row %s hours %v not a multiple of 0.25", r.ID, r.Hours)
		}
	}
}

func TestFitInvalidTargetIsNoop(t *testing.T) {
	for _, target := range []float64{0, -100, math.NaN(), math.Inf(1)} {
		res := FitToTarget(twoRowTable(), FitOptions{TargetAfterDiscountExGst: target})
		if len(res.Warnings) != 0 {
			t.Errorf("target %v: unexpected warnings %+v", target, res.Warnings)
		}
		if res.Table.Rows[1].Hours != 40 {
			t.Errorf("target %v: table changed", target)
		}
	}
}

func TestFitFullDiscountIsUnscalable(t *testing.T) {
	in := twoRowTable()
	in.DiscountPercent = 100

	res := FitToTarget(in, FitOptions{TargetAfterDiscountExGst: 5000})

	if !hasWarning(res.Warnings, WarnDiscountMakesUnscalable) {
		t.Fatalf("expected discount_makes_budget_unscalable, got %+v", res.Warnings)
	}
	if res.Table.Rows[1].Hours != 40 {
		t.Fatal("table should be unchanged")
	}
}

func TestFitZeroSubtotal(t *testing.T) {
	in := Table{DiscountPercent: 0, Rows: []Row{{ID: "x", Role: "Unknown", Hours: 10, BaseRate: 0}}}

	res := FitToTarget(in, FitOptions{TargetAfterDiscountExGst: 5000})

	if !hasWarning(res.Warnings, WarnCannotScaleZeroSubtotal) {
		t.Fatalf("expected cannot_scale_zero_subtotal, got %+v", res.Warnings)
	}
	if res.Table.Rows[0].Hours != 10 {
		t.Fatal("table should be unchanged")
	}
}

func TestFitBudgetBelowMandatoryCost(t *testing.T) {
	res := FitToTarget(twoRowTable(), FitOptions{TargetAfterDiscountExGst: 900})

	if !hasWarning(res.Warnings, WarnBudgetBelowMandatoryCost) {
		t.Fatalf("expected budget_below_mandatory_cost, got %+v", res.Warnings)
	}
	if res.Table.Rows[0].Hours < DefaultHourIncrement {
		t.Fatalf("mandatory row fell below one increment: %v", res.Table.Rows[0].Hours)
	}
	for _, w := range res.Warnings {
		if w.Type == WarnBudgetBelowMandatoryCost && w.Mandatory != 1460 {
			t.Fatalf("expected mandatory cost 1460, got %v", w.Mandatory)
		}
	}
}

func TestFitOnlyMandatoryRowsScalesAll(t *testing.T) {
	in := Table{Rows: []Row{
		{ID: "pm", Role: RoleSeniorPM, Hours: 10, BaseRate: 300},
		{ID: "am", Role: RoleAccountManagement, Hours: 10, BaseRate: 200},
	}}

	res := FitToTarget(in, FitOptions{TargetAfterDiscountExGst: 2500})

	sub := Subtotal(res.Table.Rows).InexactFloat64()
	if math.Abs(sub-2500) > 200 {
		t.Fatalf("expected subtotal near 2500, got %v", sub)
	}
	if hasWarning(res.Warnings, WarnBudgetBelowMandatoryCost) {
		t.Fatal("all-mandatory tables should scale without a floor warning")
	}
}

func TestFitMaxIterationsWarning(t *testing.T) {
	in := Table{Rows: []Row{
		{ID: "a", Role: "Developer", Hours: 1, BaseRate: 100},
	}}

	res := FitToTarget(in, FitOptions{TargetAfterDiscountExGst: 100000, MaxIterations: 3, HourIncrement: 0.5})

	if !res.Converged {
		t.Fatalf("expected linear scaling to converge, got %+v", res.Warnings)
	}

	// Rounding leaves the expensive row short and each step on the
	// cheap, larger row only moves the subtotal by $0.50.
	drift := Table{Rows: []Row{
		{ID: "a", Role: "Developer", Hours: 1, BaseRate: 1000},
		{ID: "b", Role: "Designer", Hours: 100, BaseRate: 1},
	}}
	res = FitToTarget(drift, FitOptions{TargetAfterDiscountExGst: 1300, MaxIterations: 2})
	if res.Converged {
		t.Fatalf("expected no convergence in 2 iterations, table %+v", res.Table)
	}
	if !hasWarning(res.Warnings, WarnBudgetTweakMaxIterations) {
		t.Fatalf("expected budget_tweak_max_iterations, got %+v", res.Warnings)
	}
	if res.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", res.Iterations)
	}
}

func TestFitCustomTolerance(t *testing.T) {
	res := FitToTarget(twoRowTable(), FitOptions{TargetAfterDiscountExGst: 9000, ToleranceFactor: 0.01})

	diff := decimal.NewFromInt(10000).Sub(Subtotal(res.Table.Rows)).Abs()
	if diff.GreaterThan(decimal.NewFromInt(1)) && !hasWarning(res.Warnings, WarnBudgetTweakMaxIterations) {
		t.Fatalf("tight tolerance not honored: diff %s, warnings %+v", diff, res.Warnings)
	}
}
