package pricing

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"sow-pricing/decision/ratecard"
	"sow-pricing/pkg/money"
)

// DefaultGstPercent applies when the payload carries no usable GST rate.
const DefaultGstPercent = 10.0

// Options configures Normalize.
type Options struct {
	RateCard []ratecard.Entry
	// Currency is forced onto every table. Empty means money.DefaultCurrency.
	Currency string
	// DefaultGstPercent is used when the payload has no GST. Nil means 10.
	DefaultGstPercent    *float64
	InjectMandatoryRoles bool
	// MandatoryRoleNames in presentation order. Nil means DefaultMandatoryRoles.
	MandatoryRoleNames []string
	// MaxMatchDistance bounds fuzzy role matching. Zero means ratecard.DefaultMaxDistance.
	MaxMatchDistance int
}

// Result is a normalized table and the warnings raised producing it.
type Result struct {
	Table    Table     `json:"pricingTable"`
	Warnings []Warning `json:"warnings"`
}

// Normalize reconciles an untrusted, decoded pricing payload with the rate
// card. Matched rows always take the rate card rate; unmatched rows keep
// their role text and are priced at zero. Rows end up in role rank order.
func Normalize(payload any, opts Options) Result {
	return NormalizeRaw(ParsePayload(payload), opts)
}

// NormalizeRaw is Normalize for a payload that has already been coerced.
func NormalizeRaw(raw RawTable, opts Options) Result {
	currency := strings.TrimSpace(opts.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}
	gstDefault := DefaultGstPercent
	if opts.DefaultGstPercent != nil {
		gstDefault = *opts.DefaultGstPercent
	}
	mandatory := opts.MandatoryRoleNames
	if mandatory == nil {
		mandatory = DefaultMandatoryRoles()
	}

	table := Table{
		Title:    strings.TrimSpace(raw.Title),
		Currency: currency,
		Rows:     make([]Row, 0, len(raw.Rows)),
	}
	if table.Title == "" {
		table.Title = DefaultTitle
	}
	if raw.DiscountPercent != nil {
		table.DiscountPercent = money.ClampPercent(*raw.DiscountPercent)
	}
	table.GstPercent = money.ClampPercent(gstDefault)
	if raw.GstPercent != nil {
		table.GstPercent = money.ClampPercent(*raw.GstPercent)
	}

	idx := ratecard.Build(opts.RateCard)
	var warnings []Warning

	for _, in := range raw.Rows {
		row, ws := priceRow(in, idx, opts.MaxMatchDistance)
		table.Rows = append(table.Rows, row)
		warnings = append(warnings, ws...)
	}
	SortByRoleRank(table.Rows)

	if opts.InjectMandatoryRoles {
		var injected []Warning
		table.Rows, injected = injectMandatory(table.Rows, mandatory, idx, opts.MaxMatchDistance)
		warnings = append(warnings, injected...)
		SortByRoleRank(table.Rows)
	}

	return Result{Table: table, Warnings: warnings}
}

func priceRow(in RawRow, idx *ratecard.Index, maxDistance int) (Row, []Warning) {
	row := Row{
		ID:          in.ID,
		Role:        in.Role,
		Description: in.Description,
		Hours:       money.NonNegative(in.Hours),
	}

	match := idx.Match(in.Role, maxDistance)
	if match == nil {
		return row, []Warning{{
			Type:         WarnUnknownRole,
			RowID:        row.ID,
			Role:         in.Role,
			InputRole:    in.Role,
			ProvidedRate: providedRate(in),
		}}
	}

	var warnings []Warning
	row.Role = match.Role
	row.BaseRate = match.HourlyRate

	if match.Type == ratecard.MatchFuzzy {
		warnings = append(warnings, Warning{
			Type:      WarnRoleFuzzyMatch,
			RowID:     row.ID,
			Role:      match.Role,
			InputRole: in.Role,
			Distance:  match.Distance,
		})
	}
	if in.Rate != nil && money.Round2Float(*in.Rate) != money.Round2Float(match.HourlyRate) {
		warnings = append(warnings, Warning{
			Type:         WarnRateOverridden,
			RowID:        row.ID,
			Role:         match.Role,
			InputRole:    in.Role,
			ProvidedRate: *in.Rate,
			CardRate:     match.HourlyRate,
		})
	}
	return row, warnings
}

func providedRate(in RawRow) float64 {
	if in.Rate == nil {
		return 0
	}
	return *in.Rate
}

// Role ranks. Senior PM leads, coordination follows, account management trails.
const (
	RankSeniorPM            = 0
	RankProjectCoordination = 1
	RankOther               = 2
	RankAccountManagement   = 999
)

// RoleRank returns the presentation rank of a role.
func RoleRank(role string) int {
	key := ratecard.NormalizeRoleKey(role)
	switch {
	case strings.Contains(key, "tech") && strings.Contains(key, "head") &&
		strings.Contains(key, "senior project management"):
		return RankSeniorPM
	case strings.Contains(key, "project coordination"):
		return RankProjectCoordination
	case strings.Contains(key, "account management"):
		return RankAccountManagement
	default:
		return RankOther
	}
}

// SortByRoleRank orders rows by RoleRank, keeping input order within a rank.
func SortByRoleRank(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return RoleRank(rows[i].Role) < RoleRank(rows[j].Role)
	})
}

func injectMandatory(rows []Row, names []string, idx *ratecard.Index, maxDistance int) ([]Row, []Warning) {
	var existingHours float64
	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		existingHours += money.NonNegative(r.Hours)
		present[ratecard.NormalizeRoleKey(r.Role)] = true
	}

	var warnings []Warning
	for _, name := range names {
		key := ratecard.NormalizeRoleKey(name)
		if key == "" || present[key] {
			continue
		}
		match := idx.Match(name, maxDistance)
		if match == nil {
			warnings = append(warnings, Warning{Type: WarnMandatoryRoleMissing, Role: name})
			continue
		}
		matchedKey := ratecard.NormalizeRoleKey(match.Role)
		if present[matchedKey] {
			continue
		}

		row := Row{
			ID:       uuid.NewString(),
			Role:     match.Role,
			Hours:    estimateMandatoryHours(match.Role, existingHours),
			BaseRate: match.HourlyRate,
		}
		rows = append(rows, row)
		present[key] = true
		present[matchedKey] = true
		warnings = append(warnings, Warning{
			Type:     WarnMandatoryRoleInjected,
			RowID:    row.ID,
			Role:     row.Role,
			Hours:    row.Hours,
			CardRate: row.BaseRate,
		})
	}
	return rows, warnings
}

type effortRule struct {
	share    float64
	minimum  float64
	fallback float64
}

var effortRules = map[int]effortRule{
	RankSeniorPM:            {share: 0.10, minimum: 2, fallback: 4},
	RankProjectCoordination: {share: 0.05, minimum: 1, fallback: 2},
	RankAccountManagement:   {share: 0.05, minimum: 1, fallback: 2},
	RankOther:               {share: 0.05, minimum: 1, fallback: 2},
}

// estimateMandatoryHours sizes an injected row as a share of the hours
// already quoted, so mandatory roles never appear as zero-effort lines.
func estimateMandatoryHours(role string, existingHours float64) float64 {
	rule := effortRules[RoleRank(role)]
	if existingHours <= 0 {
		return rule.fallback
	}
	h := roundToIncrement(existingHours*rule.share, DefaultHourIncrement)
	return math.Max(h, rule.minimum)
}
