package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HTTPClient struct {
	Client  *http.Client
	Retries int
	Timeout time.Duration
	Logger  zerolog.Logger
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Timeout: timeout,
		Logger:  log.Logger,
	}
}

// GetBody fetches url and returns the response body, retrying transport
// failures and 5xx responses with exponential backoff.
func (c *HTTPClient) GetBody(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error

	for i := 0; i <= c.Retries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.Client.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			case resp.StatusCode >= 400:
				// client errors are not retried
				return nil, fmt.Errorf("request rejected with %d", resp.StatusCode)
			default:
				return body, nil
			}
		} else {
			lastErr = err
		}

		if i < c.Retries {
			c.Logger.Warn().Str("url", url).Int("attempt", i+1).Err(lastErr).Msg("HTTP request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 200 * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.Retries, lastErr)
}
