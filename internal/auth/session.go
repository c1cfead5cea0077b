package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// CookieSession authenticates bookmark operations with a Polymarket session
// cookie. It implements domain.Session and fails closed: without a cookie
// every mutating call returns domain.ErrUnauthenticated and nothing is sent.
type CookieSession struct {
	baseURL    string
	cookie     string
	httpClient *http.Client
}

// NewCookieSession creates a session client. cookie may be empty, in which
// case the session is permanently invalid and bookmarks are read-only off.
func NewCookieSession(baseURL, cookie string) *CookieSession {
	return &CookieSession{
		baseURL: baseURL,
		cookie:  cookie,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Valid reports whether credentials are present. It is a local check; the
// server still rejects expired cookies, which surfaces as
// domain.ErrUnauthenticated from the calls below.
func (s *CookieSession) Valid() bool { return s.cookie != "" }

// Bookmarks returns the ids of the user's bookmarked events.
func (s *CookieSession) Bookmarks(ctx context.Context) ([]string, error) {
	if !s.Valid() {
		return nil, domain.ErrUnauthenticated
	}

	body, err := s.do(ctx, http.MethodGet, "/api/bookmarks", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: list bookmarks: %w", err)
	}

	var items []struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("auth: decode bookmarks: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.EventID)
	}
	return ids, nil
}

// SetBookmark creates or removes one bookmark.
func (s *CookieSession) SetBookmark(ctx context.Context, eventID string, on bool) error {
	if !s.Valid() {
		return domain.ErrUnauthenticated
	}

	method := http.MethodPost
	if !on {
		method = http.MethodDelete
	}
	payload, err := json.Marshal(map[string]string{"eventId": eventID})
	if err != nil {
		return fmt.Errorf("auth: marshal bookmark: %w", err)
	}

	if _, err := s.do(ctx, method, "/api/bookmarks", payload); err != nil {
		return fmt.Errorf("auth: set bookmark %s: %w", eventID, err)
	}
	return nil
}

func (s *CookieSession) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", s.cookie)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, out)
	}
	return out, nil
}
