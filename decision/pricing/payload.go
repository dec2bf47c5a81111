package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"sow-pricing/decision/ratecard"
)

// DefaultTitle is used when the payload has no usable title.
const DefaultTitle = "Project Pricing"

// RawRow is an input row after field-name coercion. Rate is nil when no
// rate field could be read.
type RawRow struct {
	ID          string
	Role        string
	Description string
	Hours       float64
	Rate        *float64
}

// RawTable is the pricing payload after field-name coercion, before any
// rate card reconciliation.
type RawTable struct {
	Title           string
	Currency        string
	DiscountPercent *float64
	GstPercent      *float64
	Rows            []RawRow
}

// DecodePayload decodes model output into a generic JSON value. A
// surrounding markdown code fence is tolerated.
func DecodePayload(data []byte) (any, error) {
	data = stripCodeFence(data)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode pricing payload: %w", err)
	}
	return v, nil
}

func stripCodeFence(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	} else {
		return trimmed
	}
	trimmed = bytes.TrimSpace(trimmed)
	return bytes.TrimSuffix(trimmed, []byte("```"))
}

// ParsePayload coerces an untrusted decoded payload into a RawTable. It
// never fails: anything that is not an object yields an empty table.
// A payload wrapped as {"pricingTable": {...}} or {"pricing": {...}} is
// unwrapped.
func ParsePayload(v any) RawTable {
	obj, _ := v.(map[string]any)
	for _, k := range []string{"pricingTable", "pricing_table", "pricing"} {
		if inner, ok := obj[k].(map[string]any); ok {
			obj = inner
			break
		}
	}

	var raw RawTable
	if obj == nil {
		return raw
	}
	raw.Title = stringField(obj, "title")
	raw.Currency = stringField(obj, "currency")
	if f, ok := numberField(obj, "discountPercent", "discount_percent", "discount"); ok {
		raw.DiscountPercent = &f
	}
	if f, ok := numberField(obj, "gstPercent", "gst_percent", "gst"); ok {
		raw.GstPercent = &f
	}

	items, _ := obj["rows"].([]any)
	if items == nil {
		items, _ = obj["items"].([]any)
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw.Rows = append(raw.Rows, parseRow(m))
	}
	return raw
}

func parseRow(m map[string]any) RawRow {
	row := RawRow{
		ID:          idField(m),
		Role:        strings.TrimSpace(stringField(m, "role")),
		Description: strings.TrimSpace(stringField(m, "description")),
	}
	if h, ok := numberField(m, "hours"); ok && h > 0 {
		row.Hours = h
	}
	if r, ok := numberField(m, "baseRate", "rate", "hourlyRate"); ok {
		row.Rate = &r
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	return row
}

// RateCardFromRaw coerces a decoded rate card list. Each entry may name
// its role as role or name and its rate as rate, hourlyRate or
// hourly_rate. Unusable entries are skipped.
func RateCardFromRaw(v any) []ratecard.Entry {
	items, _ := v.([]any)
	out := make([]ratecard.Entry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role := stringField(m, "role")
		if strings.TrimSpace(role) == "" {
			role = stringField(m, "name")
		}
		rate, ok := numberField(m, "rate", "hourlyRate", "hourly_rate")
		if !ok || strings.TrimSpace(role) == "" {
			continue
		}
		out = append(out, ratecard.Entry{Role: role, HourlyRate: rate})
	}
	return out
}

func idField(m map[string]any) string {
	switch t := m["id"].(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// numberField returns the first of keys that holds a finite number.
func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

// toFloat accepts JSON numbers and numeric strings such as "$1,200",
// "7.5%" or " 40 ".
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "$")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
