package ratecards

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"sow-pricing/decision/ratecard"
	"sow-pricing/pkg/platform"
)

// HTTPSource fetches rate cards as JSON from a workspace configuration
// service. The URL template may contain {workspace}.
type HTTPSource struct {
	urlTemplate string
	headers     map[string]string
	client      *platform.HTTPClient
}

// NewHTTPSource creates a source that uses client for requests.
func NewHTTPSource(urlTemplate string, client *platform.HTTPClient, headers map[string]string) *HTTPSource {
	return &HTTPSource{urlTemplate: urlTemplate, client: client, headers: headers}
}

func (s *HTTPSource) Load(ctx context.Context, workspace string) ([]ratecard.Entry, error) {
	u := strings.ReplaceAll(s.urlTemplate, "{workspace}", url.PathEscape(workspace))
	body, err := s.client.GetBody(ctx, u, s.headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rate card: %w", err)
	}
	card, err := ParseCard(body, "json")
	if err != nil {
		return nil, err
	}
	return card.Entries, nil
}
