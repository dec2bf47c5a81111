// Package ratecard indexes a workspace rate card by canonical role key and
// resolves free-form role names against it.
package ratecard

import (
	"math"
	"regexp"
	"strings"
)

// Entry is one role on a rate card.
type Entry struct {
	Role       string  `json:"role" yaml:"role"`
	HourlyRate float64 `json:"hourly_rate" yaml:"hourly_rate"`
}

// Rate is an indexed rate card entry.
type Rate struct {
	Role       string
	HourlyRate float64
}

// Index maps canonical role keys to rate card entries. Keys are unique;
// when two entries collapse to the same key the later one wins.
type Index struct {
	entries map[string]Rate
	keys    []string // insertion order of first appearance
}

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reDisallowed = regexp.MustCompile(`[^a-z0-9\s\-().]`)
)

// NormalizeRoleKey lowercases, strips everything except letters, digits,
// whitespace and "-().", collapses whitespace and trims.
func NormalizeRoleKey(role string) string {
	key := strings.ToLower(role)
	key = reDisallowed.ReplaceAllString(key, "")
	key = reWhitespace.ReplaceAllString(key, " ")
	return strings.TrimSpace(key)
}

// Build indexes entries. Entries with an empty role or a non-finite or
// negative rate are skipped.
func Build(entries []Entry) *Index {
	idx := &Index{entries: make(map[string]Rate, len(entries))}
	for _, e := range entries {
		if math.IsNaN(e.HourlyRate) || math.IsInf(e.HourlyRate, 0) || e.HourlyRate < 0 {
			continue
		}
		key := NormalizeRoleKey(e.Role)
		if key == "" {
			continue
		}
		if _, seen := idx.entries[key]; !seen {
			idx.keys = append(idx.keys, key)
		}
		idx.entries[key] = Rate{Role: strings.TrimSpace(e.Role), HourlyRate: e.HourlyRate}
	}
	return idx
}

// Len returns the number of distinct canonical roles.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Lookup returns the entry for a role whose canonical key matches exactly.
func (idx *Index) Lookup(role string) (Rate, bool) {
	if idx == nil {
		return Rate{}, false
	}
	r, ok := idx.entries[NormalizeRoleKey(role)]
	return r, ok
}

// Entries returns the indexed roles in first-seen key order.
func (idx *Index) Entries() []Entry {
	if idx == nil {
		return nil
	}
	out := make([]Entry, 0, len(idx.keys))
	for _, k := range idx.keys {
		r := idx.entries[k]
		out = append(out, Entry{Role: r.Role, HourlyRate: r.HourlyRate})
	}
	return out
}
