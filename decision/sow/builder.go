// Package sow assembles the pricing section of a statement of work from
// one or more model-produced scopes.
package sow

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"sow-pricing/decision/pricing"
	"sow-pricing/decision/ratecard"
	"sow-pricing/decision/render"
	"sow-pricing/pkg/money"
)

// ErrNoScopes is returned when a request carries nothing to price.
var ErrNoScopes = errors.New("sow: request has no scopes")

// Scope is one independently priced part of the work.
type Scope struct {
	Name    string `json:"name"`
	Pricing any    `json:"pricing"`
	// TargetAfterDiscountExGst triggers a budget fit when set and positive.
	TargetAfterDiscountExGst *float64 `json:"target_after_discount_ex_gst,omitempty"`
}

// Request describes a statement of work to price.
type Request struct {
	Scopes []Scope
	// DiscountPercent replaces whatever discount the model produced.
	DiscountPercent *float64
	RateCard        []ratecard.Entry
	// Normalize and Fit carry base options; rate card, injection and target
	// are set per scope.
	Normalize pricing.Options
	Fit       pricing.FitOptions
}

// ScopeResult is the priced outcome of one scope.
type ScopeResult struct {
	Name                string            `json:"name"`
	Table               pricing.Table     `json:"pricing_table"`
	Summary             pricing.Summary   `json:"summary"`
	Warnings            []pricing.Warning `json:"warnings"`
	TargetSubtotalExGst float64           `json:"target_subtotal_ex_gst,omitempty"`
	Converged           *bool             `json:"converged,omitempty"`
	Markdown            string            `json:"markdown"`
}

// Document is the assembled pricing section.
type Document struct {
	Markdown string            `json:"markdown"`
	Scopes   []ScopeResult     `json:"scopes"`
	Combined *pricing.Summary  `json:"combined,omitempty"`
	Warnings []pricing.Warning `json:"warnings"`
}

// Builder prices scopes and renders them.
type Builder struct {
	logger zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger warnings are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder. Without a logger it stays silent.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: zerolog.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build prices every scope in order: normalize with mandatory roles,
// override the discount, fit to the target when one is given, then render.
// Combined totals are added when there is more than one scope.
func (b *Builder) Build(ctx context.Context, req Request) (*Document, error) {
	if len(req.Scopes) == 0 {
		return nil, ErrNoScopes
	}

	doc := &Document{
		Scopes:   make([]ScopeResult, 0, len(req.Scopes)),
		Warnings: make([]pricing.Warning, 0),
	}
	sections := make([]render.Section, 0, len(req.Scopes))
	summaries := make([]pricing.Summary, 0, len(req.Scopes))

	for i, scope := range req.Scopes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := scope.Name
		if name == "" {
			name = fmt.Sprintf("Scope %d", i+1)
		}

		res := b.priceScope(name, scope, req)
		doc.Scopes = append(doc.Scopes, res)
		doc.Warnings = append(doc.Warnings, res.Warnings...)
		sections = append(sections, render.Section{Heading: name, Table: res.Table, Target: validTarget(scope.TargetAfterDiscountExGst)})
		summaries = append(summaries, res.Summary)
	}

	if len(summaries) > 1 {
		combined := pricing.CombineSummaries(summaries)
		doc.Combined = &combined
	}
	doc.Markdown = render.Document(sections, doc.Combined)

	LogWarnings(b.logger, doc.Warnings)
	b.logger.Info().
		Int("scopes", len(doc.Scopes)).
		Int("warnings", len(doc.Warnings)).
		Msg("SOW pricing built")

	return doc, nil
}

func (b *Builder) priceScope(name string, scope Scope, req Request) ScopeResult {
	nopts := req.Normalize
	nopts.RateCard = req.RateCard
	nopts.InjectMandatoryRoles = true

	norm := pricing.Normalize(scope.Pricing, nopts)
	table := norm.Table
	warnings := norm.Warnings

	if req.DiscountPercent != nil {
		table.DiscountPercent = money.ClampPercent(*req.DiscountPercent)
	}

	res := ScopeResult{Name: name}
	if target := validTarget(scope.TargetAfterDiscountExGst); target != nil {
		fopts := req.Fit
		fopts.TargetAfterDiscountExGst = *target
		if fopts.MandatoryRoleNames == nil {
			fopts.MandatoryRoleNames = nopts.MandatoryRoleNames
		}
		fit := pricing.FitToTarget(table, fopts)
		table = fit.Table
		warnings = append(warnings, fit.Warnings...)
		res.TargetSubtotalExGst = fit.TargetSubtotalExGst
		converged := fit.Converged
		res.Converged = &converged
	}

	for i := range warnings {
		warnings[i].Scope = name
	}
	res.Table = table
	res.Summary = pricing.ComputeSummary(table)
	res.Warnings = warnings
	res.Markdown = render.Table(table, validTarget(scope.TargetAfterDiscountExGst))
	return res
}

func validTarget(t *float64) *float64 {
	if t == nil || math.IsNaN(*t) || math.IsInf(*t, 0) || *t <= 0 {
		return nil
	}
	return t
}

// LogWarnings reports each warning at the level of its severity.
func LogWarnings(logger zerolog.Logger, warnings []pricing.Warning) {
	for _, w := range warnings {
		ev := logger.WithLevel(w.Severity().LogLevel()).
			Str("type", string(w.Type)).
			Str("severity", w.Severity().String())
		if w.Scope != "" {
			ev = ev.Str("scope", w.Scope)
		}
		if w.Role != "" {
			ev = ev.Str("role", w.Role)
		}
		if w.InputRole != "" && w.InputRole != w.Role {
			ev = ev.Str("input_role", w.InputRole)
		}
		if w.RowID != "" {
			ev = ev.Str("row_id", w.RowID)
		}
		ev.Msg("pricing warning")
	}
}
