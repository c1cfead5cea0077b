package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

const eventsPage = `[
	{
		"id": "e1",
		"title": "Fed decision",
		"slug": "fed-decision",
		"active": true,
		"closed": false,
		"volume24hr": "1000",
		"updatedAt": "2026-08-30T12:00:00Z",
		"markets": [
			{
				"id": "m1",
				"question": "Cut?",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.6\",\"0.4\"]",
				"updatedAt": "2026-08-30T12:00:00Z"
			}
		]
	}
]`

func TestGammaFetchEvents(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events", r.URL.Path)
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(eventsPage))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	batch, err := g.FetchEvents(context.Background(), domain.PollQuery{
		OrderBy: "volume24hr", Limit: 20, Offset: 40, TagSlug: "economy",
	})
	require.NoError(t, err)

	assert.Equal(t, "20", gotQuery["limit"])
	assert.Equal(t, "40", gotQuery["offset"])
	assert.Equal(t, "true", gotQuery["active"])
	assert.Equal(t, "false", gotQuery["closed"])
	assert.Equal(t, "volume24hr", gotQuery["order"])
	assert.Equal(t, "false", gotQuery["ascending"])
	assert.Equal(t, "economy", gotQuery["tag_slug"])

	require.Len(t, batch.Events, 1)
	assert.Equal(t, "e1", batch.Events[0].ID)
	assert.Equal(t, []string{"m1"}, batch.Events[0].MarketIDs)

	require.Len(t, batch.Markets, 1)
	assert.Equal(t, "m1", batch.Markets[0].ID)
	assert.Equal(t, "e1", batch.Markets[0].EventID, "nested markets are owned by their event")
	require.Len(t, batch.Markets[0].Outcomes, 2)
	assert.Equal(t, 0.6, batch.Markets[0].Outcomes[0].Price)

	assert.False(t, batch.Full, "a page is never a complete listing")
}

func TestGammaFetchEventBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("slug") {
		case "fed-decision":
			_, _ = w.Write([]byte(eventsPage))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)

	batch, err := g.FetchEventBySlug(context.Background(), "fed-decision")
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "fed-decision", batch.Events[0].Slug)

	_, err = g.FetchEventBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound, "an empty slug result means the event is gone")
}

func TestGammaSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/public-search", r.URL.Path)
		assert.Equal(t, "fed", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("limit_per_type"))
		assert.Equal(t, "active", r.URL.Query().Get("events_status"))
		_, _ = w.Write([]byte(`{"events": ` + eventsPage + `}`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	batch, err := g.Search(context.Background(), "fed", 10)
	require.NoError(t, err)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "e1", batch.Events[0].ID)
}

func TestGammaErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthenticated},
		{http.StatusForbidden, domain.ErrUnauthenticated},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		g := NewGammaClient(srv.URL)
		_, err := g.FetchEvents(context.Background(), domain.PollQuery{Limit: 1})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	g := NewGammaClient(srv.URL)
	_, err := g.FetchEvents(context.Background(), domain.PollQuery{Limit: 1})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
