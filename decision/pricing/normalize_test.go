package pricing

import (
	"testing"

	"sow-pricing/decision/ratecard"
)

func testRateCard() []ratecard.Entry {
	return []ratecard.Entry{
		{Role: RoleSeniorPM, HourlyRate: 365},
		{Role: RoleProjectCoordination, HourlyRate: 220},
		{Role: RoleAccountManagement, HourlyRate: 190},
		{Role: "Tech - Specialist Developer", HourlyRate: 200},
		{Role: "Design - UX Designer", HourlyRate: 170},
	}
}

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	v, err := DecodePayload([]byte(s))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return v
}

func hasWarning(ws []Warning, typ WarningType) bool {
	for _, w := range ws {
		if w.Type == typ {
			return true
		}
	}
	return false
}

func TestNormalizeForcesCurrency(t *testing.T) {
	for _, cur := range []string{`"USD"`, `""`, `42`, `null`} {
		payload := mustDecode(t, `{"currency": `+cur+`, "rows": []}`)
		res := Normalize(payload, Options{RateCard: testRateCard()})
		if res.Table.Currency != "AUD" {
			t.Errorf("currency %s: got %q, want AUD", cur, res.Table.Currency)
		}
	}

	res := Normalize(mustDecode(t, `{"currency":"AUD"}`), Options{Currency: "NZD"})
	if res.Table.Currency != "NZD" {
		t.Fatalf("expected configured currency NZD, got %q", res.Table.Currency)
	}
}

func TestNormalizeClampsPercents(t *testing.T) {
	cases := []struct {
		payload      string
		wantDiscount float64
		wantGst      float64
	}{
		{`{"discountPercent": 250, "gstPercent": -5}`, 100, 0},
		{`{"discountPercent": "abc", "gstPercent": "n/a"}`, 0, 10},
		{`{"discountPercent": "12.5%", "gstPercent": "15"}`, 12.5, 15},
		{`{}`, 0, 10},
		{`[]`, 0, 10},
	}
	for _, tc := range cases {
		res := Normalize(mustDecode(t, tc.payload), Options{})
		if res.Table.DiscountPercent != tc.wantDiscount || res.Table.GstPercent != tc.wantGst {
			t.Errorf("%s: got discount %v gst %v, want %v %v",
				tc.payload, res.Table.DiscountPercent, res.Table.GstPercent, tc.wantDiscount, tc.wantGst)
		}
	}
}

func TestNormalizeDefaultTitle(t *testing.T) {
	res := Normalize(mustDecode(t, `{"title": "   "}`), Options{})
	if res.Table.Title != DefaultTitle {
		t.Fatalf("expected default title, got %q", res.Table.Title)
	}
	res = Normalize(mustDecode(t, `{"title": " Website Rebuild "}`), Options{})
	if res.Table.Title != "Website Rebuild" {
		t.Fatalf("expected trimmed title, got %q", res.Table.Title)
	}
}

func TestNormalizeRateCardPrecedence(t *testing.T) {
	payload := mustDecode(t, `{"rows": [
		{"id": "r1", "role": "Design - UX Designer", "hours": 10, "baseRate": 999}
	]}`)

	res := Normalize(payload, Options{RateCard: testRateCard()})

	if len(res.Table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Table.Rows))
	}
	row := res.Table.Rows[0]
	if row.BaseRate != 170 {
		t.Fatalf("expected rate card rate 170, got %v", row.BaseRate)
	}
	if !hasWarning(res.Warnings, WarnRateOverridden) {
		t.Fatalf("expected rate_overridden warning, got %+v", res.Warnings)
	}
	w := res.Warnings[0]
	if w.ProvidedRate != 999 || w.CardRate != 170 || w.RowID != "r1" {
		t.Fatalf("unexpected warning context %+v", w)
	}
}

func TestNormalizeRateAliases(t *testing.T) {
	for _, field := range []string{"baseRate", "rate", "hourlyRate"} {
		payload := mustDecode(t, `{"rows": [{"role": "Design - UX Designer", "hours": 1, "`+field+`": 150}]}`)
		res := Normalize(payload, Options{RateCard: testRateCard()})
		if !hasWarning(res.Warnings, WarnRateOverridden) {
			t.Errorf("%s: expected rate_overridden", field)
		}
	}

	payload := mustDecode(t, `{"rows": [{"role": "Design - UX Designer", "hours": 1, "rate": "$170.00"}]}`)
	res := Normalize(payload, Options{RateCard: testRateCard()})
	if hasWarning(res.Warnings, WarnRateOverridden) {
		t.Fatalf("matching rate must not warn, got %+v", res.Warnings)
	}
}

func TestNormalizeUnknownRoleZeroed(t *testing.T) {
	payload := mustDecode(t, `{"rows": [{"role": "Quantum Astrologer", "hours": 8, "rate": 500}]}`)

	res := Normalize(payload, Options{RateCard: testRateCard()})

	row := res.Table.Rows[0]
	if row.BaseRate != 0 {
		t.Fatalf("expected zero rate, got %v", row.BaseRate)
	}
	if row.Role != "Quantum Astrologer" {
		t.Fatalf("expected literal role to pass through, got %q", row.Role)
	}
	if !hasWarning(res.Warnings, WarnUnknownRole) {
		t.Fatalf("expected unknown_role, got %+v", res.Warnings)
	}
}

func TestNormalizeFuzzyRole(t *testing.T) {
	payload := mustDecode(t, `{"rows": [{"role": "Account Managment - (Account Manager)", "hours": 3}]}`)

	res := Normalize(payload, Options{RateCard: testRateCard()})

	row := res.Table.Rows[0]
	if row.Role != RoleAccountManagement || row.BaseRate != 190 {
		t.Fatalf("expected fuzzy match to account management, got %+v", row)
	}
	if !hasWarning(res.Warnings, WarnRoleFuzzyMatch) {
		t.Fatalf("expected role_fuzzy_match, got %+v", res.Warnings)
	}
}

func TestNormalizeFloorsHours(t *testing.T) {
	payload := mustDecode(t, `{"rows": [
		{"role": "Design - UX Designer", "hours": -4},
		{"role": "Design - UX Designer", "hours": "twelve"},
		{"role": "Design - UX Designer", "hours": "6.5"}
	]}`)

	res := Normalize(payload, Options{RateCard: testRateCard()})

	want := []float64{0, 0, 6.5}
	for i, w := range want {
		if res.Table.Rows[i].Hours != w {
			t.Errorf("row %d: hours %v, want %v", i, res.Table.Rows[i].Hours, w)
		}
	}
}

func TestNormalizeOrdering(t *testing.T) {
	orderings := [][]string{
		{RoleAccountManagement, "Tech - Specialist Developer", RoleProjectCoordination, RoleSeniorPM},
		{RoleProjectCoordination, RoleAccountManagement, RoleSeniorPM, "Tech - Specialist Developer"},
		{"Tech - Specialist Developer", RoleSeniorPM, RoleAccountManagement, RoleProjectCoordination},
	}
	for _, roles := range orderings {
		raw := RawTable{}
		for _, r := range roles {
			raw.Rows = append(raw.Rows, RawRow{ID: r, Role: r, Hours: 1})
		}
		res := NormalizeRaw(raw, Options{RateCard: testRateCard()})
		rows := res.Table.Rows
		if rows[0].Role != RoleSeniorPM {
			t.Errorf("%v: first row %q", roles, rows[0].Role)
		}
		if rows[1].Role != RoleProjectCoordination {
			t.Errorf("%v: second row %q", roles, rows[1].Role)
		}
		if rows[len(rows)-1].Role != RoleAccountManagement {
			t.Errorf("%v: last row %q", roles, rows[len(rows)-1].Role)
		}
	}
}

func TestSortByRoleRankIsStable(t *testing.T) {
	rows := []Row{
		{ID: "a", Role: "Design - UX Designer"},
		{ID: "b", Role: RoleAccountManagement},
		{ID: "c", Role: "Tech - Specialist Developer"},
		{ID: "d", Role: "QA Analyst"},
	}
	SortByRoleRank(rows)

	got := ""
	for _, r := range rows {
		got += r.ID
	}
	if got != "acdb" {
		t.Fatalf("expected stable order acdb, got %s", got)
	}
}

func TestNormalizeInjectsMandatoryRoles(t *testing.T) {
	payload := mustDecode(t, `{"rows": [{"role": "Tech - Specialist Developer", "hours": 40}]}`)

	res := Normalize(payload, Options{RateCard: testRateCard(), InjectMandatoryRoles: true})

	rows := res.Table.Rows
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Role != RoleSeniorPM || rows[0].Hours != 4 || rows[0].BaseRate != 365 {
		t.Fatalf("unexpected PM row %+v", rows[0])
	}
	if rows[1].Role != RoleProjectCoordination || rows[1].Hours != 2 {
		t.Fatalf("unexpected coordination row %+v", rows[1])
	}
	if rows[3].Role != RoleAccountManagement || rows[3].Hours != 2 {
		t.Fatalf("unexpected account management row %+v", rows[3])
	}
	if n := CountByType(res.Warnings)[WarnMandatoryRoleInjected]; n != 3 {
		t.Fatalf("expected 3 injection warnings, got %d", n)
	}
}

func TestNormalizeInjectionFallbackHours(t *testing.T) {
	res := Normalize(mustDecode(t, `{"rows": []}`), Options{RateCard: testRateCard(), InjectMandatoryRoles: true})

	want := map[string]float64{RoleSeniorPM: 4, RoleProjectCoordination: 2, RoleAccountManagement: 2}
	for _, r := range res.Table.Rows {
		if want[r.Role] != r.Hours {
			t.Errorf("%s: hours %v, want %v", r.Role, r.Hours, want[r.Role])
		}
	}
}

func TestNormalizeInjectionMinimumHours(t *testing.T) {
	res := Normalize(mustDecode(t, `{"rows": [{"role": "Design - UX Designer", "hours": 3}]}`),
		Options{RateCard: testRateCard(), InjectMandatoryRoles: true})

	for _, r := range res.Table.Rows {
		switch r.Role {
		case RoleSeniorPM:
			if r.Hours != 2 {
				t.Errorf("PM hours %v, want 2", r.Hours)
			}
		case RoleProjectCoordination, RoleAccountManagement:
			if r.Hours != 1 {
				t.Errorf("%s hours %v, want 1", r.Role, r.Hours)
			}
		}
	}
}

func TestNormalizeInjectionIdempotent(t *testing.T) {
	opts := Options{RateCard: testRateCard(), InjectMandatoryRoles: true}
	first := Normalize(mustDecode(t, `{"rows": [{"role": "Tech - Specialist Developer", "hours": 20}]}`), opts)

	second := NormalizeRaw(tableToRaw(first.Table), opts)

	if len(second.Table.Rows) != len(first.Table.Rows) {
		t.Fatalf("second pass changed row count: %d -> %d", len(first.Table.Rows), len(second.Table.Rows))
	}
	if hasWarning(second.Warnings, WarnMandatoryRoleInjected) {
		t.Fatalf("second pass injected again: %+v", second.Warnings)
	}
}

func TestNormalizeMandatoryMissingFromRateCard(t *testing.T) {
	card := []ratecard.Entry{{Role: "Tech - Specialist Developer", HourlyRate: 200}}

	res := Normalize(mustDecode(t, `{"rows": [{"role": "Tech - Specialist Developer", "hours": 10}]}`),
		Options{RateCard: card, InjectMandatoryRoles: true})

	if len(res.Table.Rows) != 1 {
		t.Fatalf("expected no injection, got %+v", res.Table.Rows)
	}
	if n := CountByType(res.Warnings)[WarnMandatoryRoleMissing]; n != 3 {
		t.Fatalf("expected 3 missing warnings, got %d", n)
	}
}

func TestNormalizeEmptyRateCard(t *testing.T) {
	res := Normalize(mustDecode(t, `{"rows": [{"role": "Developer", "hours": 10, "rate": 150}]}`), Options{})

	if res.Table.Rows[0].BaseRate != 0 {
		t.Fatalf("expected zero rate without a rate card, got %v", res.Table.Rows[0].BaseRate)
	}
	if !hasWarning(res.Warnings, WarnUnknownRole) {
		t.Fatal("expected unknown_role")
	}
}

func TestNormalizeUnwrapsAndFences(t *testing.T) {
	payload := mustDecode(t, "```json\n{\"pricingTable\": {\"title\": \"Wrapped\", \"rows\": [{\"role\": \"Design - UX Designer\", \"hours\": 2}]}}\n```")

	res := Normalize(payload, Options{RateCard: testRateCard()})
	if res.Table.Title != "Wrapped" || len(res.Table.Rows) != 1 {
		t.Fatalf("unexpected table %+v", res.Table)
	}
}

func TestNormalizeSkipsNonObjectRows(t *testing.T) {
	res := Normalize(mustDecode(t, `{"rows": [1, "x", null, {"role": "Design - UX Designer", "hours": 1}]}`),
		Options{RateCard: testRateCard()})
	if len(res.Table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Table.Rows))
	}
	if res.Table.Rows[0].ID == "" {
		t.Fatal("expected generated row ID")
	}
}

func TestRateCardFromRaw(t *testing.T) {
	v := mustDecode(t, `[
		{"role": "Developer", "rate": 150},
		{"name": "Designer", "hourlyRate": "170"},
		{"name": "Tester", "hourly_rate": 120},
		{"role": "Nobody"},
		"junk"
	]`)

	entries := RateCardFromRaw(v)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", entries)
	}
	if entries[1].Role != "Designer" || entries[1].HourlyRate != 170 {
		t.Fatalf("unexpected entry %+v", entries[1])
	}
}

func tableToRaw(t Table) RawTable {
	raw := RawTable{Title: t.Title, Currency: t.Currency}
	d, g := t.DiscountPercent, t.GstPercent
	raw.DiscountPercent, raw.GstPercent = &d, &g
	for _, r := range t.Rows {
		rate := r.BaseRate
		raw.Rows = append(raw.Rows, RawRow{ID: r.ID, Role: r.Role, Description: r.Description, Hours: r.Hours, Rate: &rate})
	}
	return raw
}
