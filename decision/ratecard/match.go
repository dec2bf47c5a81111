package ratecard

// DefaultMaxDistance is the largest edit distance accepted as a typo.
const DefaultMaxDistance = 4

// MatchType says how a role was resolved.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// MatchResult is a resolved rate card role.
type MatchResult struct {
	Role       string    `json:"matched_role"`
	HourlyRate float64   `json:"hourly_rate"`
	Type       MatchType `json:"match_type"`
	Distance   int       `json:"distance,omitempty"`
}

// Match resolves role against the index. Exact canonical matches win.
// Otherwise the nearest key by edit distance is accepted only when it is
// the single closest key and within maxDistance; ties and distant keys
// return nil. maxDistance <= 0 uses DefaultMaxDistance.
func (idx *Index) Match(role string, maxDistance int) *MatchResult {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	key := NormalizeRoleKey(role)
	if key == "" || idx.Len() == 0 {
		return nil
	}

	if r, ok := idx.entries[key]; ok {
		return &MatchResult{Role: r.Role, HourlyRate: r.HourlyRate, Type: MatchExact}
	}

	best := -1
	bestKey := ""
	tied := false
	for _, k := range idx.keys {
		d := Levenshtein(key, k)
		switch {
		case best < 0 || d < best:
			best, bestKey, tied = d, k, false
		case d == best:
			tied = true
		}
	}

	if best < 0 || tied || best > maxDistance {
		return nil
	}
	r := idx.entries[bestKey]
	return &MatchResult{Role: r.Role, HourlyRate: r.HourlyRate, Type: MatchFuzzy, Distance: best}
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
