package review

import (
	"context"
	"testing"

	"sow-pricing/decision/pricing"
)

func pricedTable() pricing.Table {
	return pricing.Table{
		Currency:        "AUD",
		DiscountPercent: 10,
		GstPercent:      10,
		Rows: []pricing.Row{
			{ID: "pm", Role: pricing.RoleSeniorPM, Hours: 4, BaseRate: 365},
			{ID: "dev", Role: "Developer", Hours: 40, BaseRate: 200},
		},
	}
}

func TestEvaluatePassesCleanQuote(t *testing.T) {
	res, err := NewEngine().Evaluate(context.Background(), Request{Table: pricedTable()})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Decision != DecisionPass {
		t.Fatalf("decision = %s, violations %+v", res.Decision, res.Violations)
	}
	if res.PoliciesRan != len(DefaultPolicies()) {
		t.Fatalf("policies ran = %d", res.PoliciesRan)
	}
}

func TestEvaluateDecisions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Request)
		decision Decision
	}{
		{
			name: "unknown role warns",
			mutate: func(r *Request) {
				r.Table.Rows = append(r.Table.Rows, pricing.Row{ID: "x", Role: "Mystery", Hours: 2})
			},
			decision: DecisionWarn,
		},
		{
			name: "unconverged fit warns",
			mutate: func(r *Request) {
				r.Warnings = []pricing.Warning{{Type: pricing.WarnBudgetTweakMaxIterations}}
			},
			decision: DecisionWarn,
		},
		{
			name:     "excess discount denies",
			mutate:   func(r *Request) { r.Table.DiscountPercent = 45 },
			decision: DecisionDeny,
		},
		{
			name: "total over limit denies",
			mutate: func(r *Request) {
				r.CustomPolicies = []Policy{{ID: "cap", Name: "Cap", Type: PolicyTypeMaxTotalIncGst, Severity: SeverityError, Threshold: 5000, Enabled: true}}
			},
			decision: DecisionDeny,
		},
		{
			name: "info policy only warns",
			mutate: func(r *Request) {
				r.CustomPolicies = []Policy{{ID: "cap", Type: PolicyTypeMaxTotalIncGst, Severity: SeverityInfo, Threshold: 5000, Enabled: true}}
			},
			decision: DecisionWarn,
		},
		{
			name: "disabled policy is skipped",
			mutate: func(r *Request) {
				r.CustomPolicies = []Policy{{ID: "cap", Type: PolicyTypeMaxTotalIncGst, Severity: SeverityError, Threshold: 5000}}
			},
			decision: DecisionPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Table: pricedTable()}
			tt.mutate(&req)
			res, err := NewEngine().Evaluate(context.Background(), req)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Decision != tt.decision {
				t.Fatalf("decision = %s, want %s (violations %+v, warnings %+v)", res.Decision, tt.decision, res.Violations, res.Warnings)
			}
		})
	}
}

func TestEvaluateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine().Evaluate(ctx, Request{Table: pricedTable()}); err == nil {
		t.Fatal("expected context error")
	}
}
