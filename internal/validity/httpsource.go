package validity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches summaries from GET {BaseURL}/api/bishop-validity/{id}.
type HTTPSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSummary treats any non-2xx response or malformed body as
// ErrSummaryUnavailable.
func (s *HTTPSource) FetchSummary(ctx context.Context, bishopID string) (Summary, error) {
	endpoint := s.BaseURL + "/api/bishop-validity/" + url.PathEscape(bishopID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Summary{}, fmt.Errorf("%w: status %d", ErrSummaryUnavailable, resp.StatusCode)
	}
	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return Summary{}, fmt.Errorf("%w: decode: %v", ErrSummaryUnavailable, err)
	}
	return summary, nil
}
