// Package review checks priced quotes against commercial guardrails
// before they are sent out.
package review

import (
	"context"
	"fmt"
	"time"

	"sow-pricing/decision/pricing"
	"sow-pricing/pkg/money"
)

// PolicyType defines the type of policy
type PolicyType string

const (
	PolicyTypeMaxTotalIncGst      PolicyType = "max_total_inc_gst"
	PolicyTypeMaxDiscountPercent  PolicyType = "max_discount_percent"
	PolicyTypeBlockUnknownRoles   PolicyType = "block_unknown_roles"
	PolicyTypeBlockUnconvergedFit PolicyType = "block_unconverged_fit"
)

// Severity defines policy violation severity
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Decision is the review outcome
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionWarn Decision = "warn"
	DecisionDeny Decision = "deny"
)

// Policy is a single guardrail.
type Policy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        PolicyType `json:"type"`
	Severity    Severity   `json:"severity"`
	Threshold   float64    `json:"threshold"`
	Enabled     bool       `json:"enabled"`
}

// Violation represents a policy violation
type Violation struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

// Warning represents a policy warning
type Warning struct {
	PolicyID string `json:"policy_id"`
	Message  string `json:"message"`
}

// Request is a priced table and the warnings produced while pricing it.
type Request struct {
	Table          pricing.Table
	Warnings       []pricing.Warning
	CustomPolicies []Policy
}

// Result contains the review outcome
type Result struct {
	Decision    Decision    `json:"decision"`
	Violations  []Violation `json:"violations"`
	Warnings    []Warning   `json:"warnings"`
	PoliciesRan int         `json:"policies_ran"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Engine evaluates policies against quotes.
type Engine struct {
	policies []Policy
	now      func() time.Time
}

// NewEngine creates an engine with the built-in policies.
func NewEngine() *Engine {
	return &Engine{
		policies: DefaultPolicies(),
		now:      time.Now,
	}
}

// AddPolicy adds a custom policy
func (e *Engine) AddPolicy(p Policy) {
	e.policies = append(e.policies, p)
}

// Policies returns the engine's configured policies.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Evaluate runs all enabled policies. A violation of an error-severity
// policy denies the quote; anything else found only warns.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Decision:    DecisionPass,
		Violations:  make([]Violation, 0),
		Warnings:    make([]Warning, 0),
		EvaluatedAt: e.now(),
	}

	summary := pricing.ComputeSummary(req.Table)
	counts := pricing.CountByType(req.Warnings)

	all := make([]Policy, 0, len(e.policies)+len(req.CustomPolicies))
	all = append(all, e.policies...)
	all = append(all, req.CustomPolicies...)

	for _, p := range all {
		if !p.Enabled {
			continue
		}

		result.PoliciesRan++
		violation, warning := evaluatePolicy(p, req.Table, summary, counts)

		if violation != nil {
			result.Violations = append(result.Violations, *violation)
			if p.Severity == SeverityError {
				result.Decision = DecisionDeny
			} else if result.Decision != DecisionDeny {
				result.Decision = DecisionWarn
			}
		}

		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
			if result.Decision == DecisionPass {
				result.Decision = DecisionWarn
			}
		}
	}

	return result, nil
}

func evaluatePolicy(p Policy, t pricing.Table, s pricing.Summary, counts map[pricing.WarningType]int) (*Violation, *Warning) {
	switch p.Type {
	case PolicyTypeMaxTotalIncGst:
		if p.Threshold > 0 && s.TotalIncGst.InexactFloat64() > p.Threshold {
			return violationOrWarning(p, fmt.Sprintf("Total inc GST (%s) exceeds limit (%s)",
				money.FormatWhole(s.TotalIncGst), money.FormatWhole(money.FromFloat(p.Threshold))))
		}

	case PolicyTypeMaxDiscountPercent:
		if s.DiscountPercent > p.Threshold {
			return violationOrWarning(p, fmt.Sprintf("Discount (%s%%) exceeds maximum (%s%%)",
				money.FormatPercent(s.DiscountPercent), money.FormatPercent(p.Threshold)))
		}

	case PolicyTypeBlockUnknownRoles:
		unpriced := 0
		for _, r := range t.Rows {
			if r.BaseRate <= 0 {
				unpriced++
			}
		}
		if n := max(unpriced, counts[pricing.WarnUnknownRole]); n > 0 {
			return violationOrWarning(p, fmt.Sprintf("%d line item(s) have no rate card rate", n))
		}

	case PolicyTypeBlockUnconvergedFit:
		for _, wt := range []pricing.WarningType{
			pricing.WarnBudgetTweakMaxIterations,
			pricing.WarnBudgetBelowMandatoryCost,
			pricing.WarnDiscountMakesUnscalable,
			pricing.WarnCannotScaleZeroSubtotal,
		} {
			if counts[wt] > 0 {
				return violationOrWarning(p, fmt.Sprintf("Budget fit did not land on target (%s)", wt))
			}
		}
	}

	return nil, nil
}

// violationOrWarning reports info-severity policies as warnings and all
// others as violations.
func violationOrWarning(p Policy, msg string) (*Violation, *Warning) {
	if p.Severity == SeverityInfo {
		return nil, &Warning{PolicyID: p.ID, Message: msg}
	}
	return &Violation{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Message:    msg,
		Severity:   string(p.Severity),
	}, nil
}

// DefaultPolicies are applied to every review.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:          "default-unknown-roles",
			Name:        "Unpriced Roles",
			Description: "Warn when a line item has no rate card rate",
			Type:        PolicyTypeBlockUnknownRoles,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          "default-unconverged-fit",
			Name:        "Budget Fit Missed",
			Description: "Warn when a budget fit could not reach its target",
			Type:        PolicyTypeBlockUnconvergedFit,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          "default-max-discount",
			Name:        "Maximum Discount",
			Description: "Block discounts above 30%",
			Type:        PolicyTypeMaxDiscountPercent,
			Severity:    SeverityError,
			Threshold:   30,
			Enabled:     true,
		},
	}
}
