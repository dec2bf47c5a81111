// Package pricing normalizes model-produced pricing tables against a rate
// card, computes quote totals and fits line-item hours to a budget.
//
// Nothing in this package returns an error for bad pricing content.
// Defects degrade to safe values and are reported as Warnings.
package pricing

import (
	qerrors "sow-pricing/pkg/errors"
)

// Row is one priced line item.
type Row struct {
	ID          string  `json:"id"`
	Role        string  `json:"role"`
	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
	BaseRate    float64 `json:"baseRate"`
}

// Table is a pricing table. Rows are kept in role rank order.
type Table struct {
	Title           string  `json:"title"`
	Currency        string  `json:"currency"`
	DiscountPercent float64 `json:"discountPercent"`
	GstPercent      float64 `json:"gstPercent"`
	Rows            []Row   `json:"rows"`
}

// Clone returns a copy that shares no row storage with t.
func (t Table) Clone() Table {
	out := t
	if t.Rows != nil {
		out.Rows = make([]Row, len(t.Rows))
		copy(out.Rows, t.Rows)
	}
	return out
}

// WarningType classifies a Warning.
type WarningType string

const (
	WarnRateOverridden           WarningType = "rate_overridden"
	WarnUnknownRole              WarningType = "unknown_role"
	WarnRoleFuzzyMatch           WarningType = "role_fuzzy_match"
	WarnMandatoryRoleInjected    WarningType = "mandatory_role_injected"
	WarnMandatoryRoleMissing     WarningType = "mandatory_role_missing_from_rate_card"
	WarnBudgetBelowMandatoryCost WarningType = "budget_below_mandatory_cost"
	WarnDiscountMakesUnscalable  WarningType = "discount_makes_budget_unscalable"
	WarnCannotScaleZeroSubtotal  WarningType = "cannot_scale_zero_subtotal"
	WarnBudgetTweakMaxIterations WarningType = "budget_tweak_max_iterations"
)

// Warning is a diagnostic about a compromise made while normalizing or
// fitting. Only the fields relevant to Type are set.
type Warning struct {
	Type         WarningType `json:"type"`
	Scope        string      `json:"scope,omitempty"`
	RowID        string      `json:"rowId,omitempty"`
	Role         string      `json:"role,omitempty"`
	InputRole    string      `json:"inputRole,omitempty"`
	ProvidedRate float64     `json:"providedRate,omitempty"`
	CardRate     float64     `json:"rateCardRate,omitempty"`
	Distance     int         `json:"distance,omitempty"`
	Hours        float64     `json:"hours,omitempty"`
	Target       float64     `json:"targetSubtotalExGst,omitempty"`
	Mandatory    float64     `json:"mandatoryCostExGst,omitempty"`
	Subtotal     float64     `json:"subtotalExGst,omitempty"`
	Iterations   int         `json:"iterations,omitempty"`
}

// Severity grades the warning for logging and review.
func (w Warning) Severity() qerrors.Severity {
	switch w.Type {
	case WarnRateOverridden, WarnRoleFuzzyMatch, WarnMandatoryRoleInjected:
		return qerrors.SeverityInfo
	case WarnDiscountMakesUnscalable, WarnCannotScaleZeroSubtotal:
		return qerrors.SeverityError
	default:
		return qerrors.SeverityWarning
	}
}

// CountByType tallies warnings per type.
func CountByType(warnings []Warning) map[WarningType]int {
	out := make(map[WarningType]int)
	for _, w := range warnings {
		out[w.Type]++
	}
	return out
}

// Canonical mandatory roles, in presentation order.
const (
	RoleSeniorPM            = "Tech - Head Of- Senior Project Management"
	RoleProjectCoordination = "Tech - Delivery - Project Coordination"
	RoleAccountManagement   = "Account Management - (Account Manager)"
)

// DefaultMandatoryRoles returns the roles every quote must carry.
func DefaultMandatoryRoles() []string {
	return []string{RoleSeniorPM, RoleProjectCoordination, RoleAccountManagement}
}
