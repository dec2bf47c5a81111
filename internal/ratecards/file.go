package ratecards

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sow-pricing/decision/pricing"
	"sow-pricing/decision/ratecard"
)

// Card is a rate card file: entries plus optional quote settings.
type Card struct {
	Currency       string           `json:"currency,omitempty" yaml:"currency,omitempty"`
	MandatoryRoles []string         `json:"mandatory_roles,omitempty" yaml:"mandatory_roles,omitempty"`
	Entries        []ratecard.Entry `json:"entries" yaml:"entries"`
}

// ParseCard decodes a YAML or JSON rate card. The document is either a
// list of entries or an object with an entries (or roles) list. Entries
// name the role with role or name and the rate with rate, hourlyRate or
// hourly_rate.
func ParseCard(data []byte, format string) (*Card, error) {
	var doc any
	switch strings.ToLower(format) {
	case "json":
		v, err := pricing.DecodePayload(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rate card JSON: %w", err)
		}
		doc = v
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse rate card YAML: %w", err)
		}
	}

	card := &Card{}
	switch v := doc.(type) {
	case []any:
		card.Entries = pricing.RateCardFromRaw(v)
	case map[string]any:
		if c, ok := v["currency"].(string); ok {
			card.Currency = strings.TrimSpace(c)
		}
		if roles, ok := v["mandatory_roles"].([]any); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
					card.MandatoryRoles = append(card.MandatoryRoles, strings.TrimSpace(s))
				}
			}
		}
		list := v["entries"]
		if list == nil {
			list = v["roles"]
		}
		card.Entries = pricing.RateCardFromRaw(list)
	case nil:
	default:
		return nil, fmt.Errorf("rate card must be a list or an object, got %T", doc)
	}
	return card, nil
}

// LoadCardFile reads a rate card, picking the format from the extension.
func LoadCardFile(path string) (*Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate card %s: %w", path, err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseCard(data, format)
}

// FileSource serves rate cards from a directory holding one file per
// workspace (<workspace>.yaml, .yml or .json), or from a single file for
// every workspace.
type FileSource struct {
	path string
}

// NewFileSource creates a source over a file or directory.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(ctx context.Context, workspace string) ([]ratecard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("rate card path: %w", err)
	}
	if !info.IsDir() {
		card, err := LoadCardFile(s.path)
		if err != nil {
			return nil, err
		}
		return card.Entries, nil
	}

	name := safeName(workspace)
	if name == "" {
		name = "default"
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		p := filepath.Join(s.path, name+ext)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		card, err := LoadCardFile(p)
		if err != nil {
			return nil, err
		}
		return card.Entries, nil
	}
	return nil, nil
}

// safeName keeps workspace IDs from escaping the card directory.
func safeName(workspace string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, workspace)
}
