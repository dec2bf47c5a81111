package ratecards

import (
	"context"
	"sync"

	"sow-pricing/decision/pricing"
	"sow-pricing/decision/ratecard"
)

// StaticSource serves in-memory cards keyed by workspace, with a fallback
// card for workspaces it does not know.
type StaticSource struct {
	mu       sync.RWMutex
	cards    map[string][]ratecard.Entry
	fallback []ratecard.Entry
}

// NewStaticSource creates a source whose fallback is entries.
func NewStaticSource(entries []ratecard.Entry) *StaticSource {
	return &StaticSource{
		cards:    make(map[string][]ratecard.Entry),
		fallback: cloneEntries(entries),
	}
}

// NewDefaultSource serves DefaultCard to every workspace.
func NewDefaultSource() *StaticSource {
	return NewStaticSource(DefaultCard())
}

// Set stores the card of one workspace.
func (s *StaticSource) Set(workspace string, entries []ratecard.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[workspace] = cloneEntries(entries)
}

func (s *StaticSource) Load(_ context.Context, workspace string) ([]ratecard.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entries, ok := s.cards[workspace]; ok {
		return cloneEntries(entries), nil
	}
	return cloneEntries(s.fallback), nil
}

// DefaultCard is the rate card used when a workspace has none.
func DefaultCard() []ratecard.Entry {
	return []ratecard.Entry{
		{Role: pricing.RoleSeniorPM, HourlyRate: 365},
		{Role: pricing.RoleProjectCoordination, HourlyRate: 180},
		{Role: "Tech - Specialist Developer", HourlyRate: 220},
		{Role: "Tech - Senior Developer", HourlyRate: 200},
		{Role: "Tech - Developer", HourlyRate: 170},
		{Role: "Tech - Solution Architect", HourlyRate: 280},
		{Role: "Tech - QA Engineer", HourlyRate: 150},
		{Role: "Design - UX Designer", HourlyRate: 190},
		{Role: "Strategy - Business Analyst", HourlyRate: 210},
		{Role: pricing.RoleAccountManagement, HourlyRate: 200},
	}
}

func cloneEntries(entries []ratecard.Entry) []ratecard.Entry {
	if entries == nil {
		return nil
	}
	out := make([]ratecard.Entry, len(entries))
	copy(out, entries)
	return out
}
