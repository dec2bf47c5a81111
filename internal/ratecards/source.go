// Package ratecards loads workspace rate cards from files, HTTP services
// and built-in defaults.
package ratecards

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sow-pricing/decision/ratecard"
)

// Source loads the rate card of a workspace. A source with no card for the
// workspace returns no entries and a nil error.
type Source interface {
	Load(ctx context.Context, workspace string) ([]ratecard.Entry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, workspace string) ([]ratecard.Entry, error)

func (f SourceFunc) Load(ctx context.Context, workspace string) ([]ratecard.Entry, error) {
	return f(ctx, workspace)
}

// Chain tries each source in order and returns the first non-empty card.
type Chain struct {
	sources []Source
	logger  zerolog.Logger
}

// NewChain builds a chain; nil sources are ignored.
func NewChain(logger zerolog.Logger, sources ...Source) *Chain {
	c := &Chain{logger: logger}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Load returns the first non-empty card. A failing source is logged and
// skipped; the errors are returned only when no source produced a card.
func (c *Chain) Load(ctx context.Context, workspace string) ([]ratecard.Entry, error) {
	var errs []error
	for i, s := range c.sources {
		entries, err := s.Load(ctx, workspace)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Int("source", i).Str("workspace", workspace).Msg("Rate card source failed")
			errs = append(errs, err)
			continue
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("no rate card for workspace %q: %w", workspace, errors.Join(errs...))
	}
	return nil, nil
}
