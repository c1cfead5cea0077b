package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market discovery, metadata, and search. It implements
// domain.Poller.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchEvents returns one page of active events with their markets.
func (g *GammaClient) FetchEvents(ctx context.Context, q domain.PollQuery) (domain.Batch, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	if q.OrderBy != "" {
		params.Set("order", q.OrderBy)
		params.Set("ascending", strconv.FormatBool(q.Ascending))
	}
	if q.TagSlug != "" {
		params.Set("tag_slug", q.TagSlug)
	}

	path := "/events?" + params.Encode()

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	return batchFromEvents(events), nil
}

// FetchEventBySlug returns a single event with its full market list. A
// source-side "not found" surfaces as domain.ErrNotFound so the caller can
// turn it into an explicit removal.
func (g *GammaClient) FetchEventBySlug(ctx context.Context, slug string) (domain.Batch, error) {
	params := url.Values{}
	params.Set("slug", slug)

	path := "/events?" + params.Encode()

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	return batchFromEvents(events[:1]), nil
}

// Search returns events matching the given query string.
func (g *GammaClient) Search(ctx context.Context, query string, limit int) (domain.Batch, error) {
	if limit <= 0 {
		limit = 25
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit_per_type", strconv.Itoa(limit))
	params.Set("events_status", "active")

	path := "/public-search?" + params.Encode()

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: search: %w", err)
	}

	var result struct {
		Events []APIEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.Batch{}, fmt.Errorf("polymarket/gamma: decode search results: %w", err)
	}

	return batchFromEvents(result.Events), nil
}

// batchFromEvents flattens API events and their nested markets into one
// merge unit. Full stays false: a page is never treated as a complete
// listing, so entities missing from it are not marked stale.
func batchFromEvents(events []APIEvent) domain.Batch {
	var b domain.Batch
	for i := range events {
		e := &events[i]
		b.Events = append(b.Events, e.ToDomain())
		for j := range e.Markets {
			b.Markets = append(b.Markets, e.Markets[j].ToDomain(e.ID))
		}
	}
	return b
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps HTTP error statuses onto domain sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
