package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

type fakePoller struct {
	mu       sync.Mutex
	batch    domain.Batch
	err      error
	queries  []domain.PollQuery
	searches []string
}

func (p *fakePoller) FetchEvents(_ context.Context, q domain.PollQuery) (domain.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.batch, p.err
}

func (p *fakePoller) FetchEventBySlug(context.Context, string) (domain.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batch, p.err
}

func (p *fakePoller) Search(_ context.Context, query string, _ int) (domain.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searches = append(p.searches, query)
	return p.batch, p.err
}

type bookmarkCall struct {
	eventID string
	on      bool
}

type fakeSession struct {
	valid bool
	err   error

	mu        sync.Mutex
	bookmarks []string
	calls     []bookmarkCall
}

func (s *fakeSession) Valid() bool { return s.valid }

func (s *fakeSession) Bookmarks(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bookmarks...), s.err
}

func (s *fakeSession) SetBookmark(_ context.Context, eventID string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, bookmarkCall{eventID, on})
	return nil
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testEngineConfig() Config {
	return Config{
		Store:        StoreConfig{TradeRingCap: 10},
		Mux:          testMuxConfig(),
		Tabs:         testTabConfig(),
		Publisher:    PublisherConfig{MaxRows: 100, TradeRows: 10, LogRows: 10},
		PollInterval: time.Hour,
		SearchLimit:  25,
		Workers:      2,
	}
}

func newTestEngine(poller *fakePoller, session domain.Session, dialers ...domain.StreamDialer) *Engine {
	if len(dialers) == 0 {
		dialers = []domain.StreamDialer{
			newFakeDialer(domain.SourceMarket),
			newFakeDialer(domain.SourceTrades),
		}
	}
	return New(testEngineConfig(), poller, dialers, session, nil, discardLogger())
}

// runQueued executes one request from the engine's queue on the test
// goroutine, standing in for a worker.
func runQueued(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case fn := <-e.reqs:
		fn(context.Background())
	case <-time.After(time.Second):
		t.Fatal("no queued request")
	}
}

func TestToggleBookmarkUnauthenticated(t *testing.T) {
	session := &fakeSession{valid: false}
	e := newTestEngine(&fakePoller{}, session)

	err := e.ToggleBookmark(context.Background(), "e1")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	assert.Zero(t, session.callCount(), "no remote call without a valid session")
	assert.Zero(t, e.tabs[domain.TabFavorites].Len())
	assert.Equal(t, "sign in to bookmark", e.status.TakeNotice())

	snap := e.GetSnapshot(domain.TabFavorites, domain.PanelList, "")
	assert.False(t, snap.Authenticated)
}

func TestToggleBookmarkFlipsMembership(t *testing.T) {
	session := &fakeSession{valid: true}
	e := newTestEngine(&fakePoller{}, session)
	putEvent(e.store, domain.Event{ID: "e1", Title: "one", Volume24h: 5})

	require.NoError(t, e.ToggleBookmark(context.Background(), "e1"))
	require.Equal(t, []bookmarkCall{{"e1", true}}, session.calls)
	assert.True(t, e.tabs[domain.TabFavorites].Bookmarked("e1"))
	assert.Equal(t, []string{"e1"}, e.tabs[domain.TabFavorites].IDs())

	require.NoError(t, e.ToggleBookmark(context.Background(), "e1"))
	require.Equal(t, bookmarkCall{"e1", false}, session.calls[1])
	assert.False(t, e.tabs[domain.TabFavorites].Bookmarked("e1"))
	assert.Empty(t, e.tabs[domain.TabFavorites].IDs())
}

func TestToggleBookmarkRemoteFailureLeavesState(t *testing.T) {
	session := &fakeSession{valid: true, err: errors.New("boom")}
	e := newTestEngine(&fakePoller{}, session)

	err := e.ToggleBookmark(context.Background(), "e1")
	require.Error(t, err)
	assert.False(t, e.tabs[domain.TabFavorites].Bookmarked("e1"))
	assert.Contains(t, e.status.TakeNotice(), "bookmark failed")
}

func TestToggleWatchSubscribesMarkets(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	putEvent(e.store, domain.Event{ID: "e1", MarketIDs: []string{"m1", "m2"}})

	assert.True(t, e.ToggleWatch("e1"))
	for _, k := range []string{"m1", "m2"} {
		assert.True(t, e.mux.Subscribed(domain.SourceMarket, k))
		assert.True(t, e.mux.Subscribed(domain.SourceTrades, k))
	}

	assert.False(t, e.ToggleWatch("e1"))
	for _, k := range []string{"m1", "m2"} {
		assert.False(t, e.mux.Subscribed(domain.SourceMarket, k))
		assert.False(t, e.mux.Subscribed(domain.SourceTrades, k))
	}
}

func TestToggleWatchUsesStreamKeySpaces(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	putEvent(e.store, domain.Event{ID: "e1", MarketIDs: []string{"m1"}})
	putMarket(e.store, domain.Market{
		ID: "m1", EventID: "e1", ConditionID: "0xc0ffee",
		Outcomes: []domain.Outcome{
			{Name: "Yes", TokenID: "111"},
			{Name: "No", TokenID: "222"},
		},
	})

	require.True(t, e.ToggleWatch("e1"))

	// The market channel is keyed by outcome token ids.
	assert.True(t, e.mux.Subscribed(domain.SourceMarket, "111"))
	assert.True(t, e.mux.Subscribed(domain.SourceMarket, "222"))
	assert.False(t, e.mux.Subscribed(domain.SourceMarket, "m1"))

	// The trade filter is keyed by condition id.
	assert.True(t, e.mux.Subscribed(domain.SourceTrades, "0xc0ffee"))
	assert.False(t, e.mux.Subscribed(domain.SourceTrades, "m1"))

	require.False(t, e.ToggleWatch("e1"))
	for _, k := range []string{"111", "222"} {
		assert.False(t, e.mux.Subscribed(domain.SourceMarket, k))
	}
	assert.False(t, e.mux.Subscribed(domain.SourceTrades, "0xc0ffee"))
}

func TestToggleWatchUnknownEvent(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	assert.False(t, e.ToggleWatch("missing"))
}

func TestToggleWatchFallsBackToEventID(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	putEvent(e.store, domain.Event{ID: "e1"})

	require.True(t, e.ToggleWatch("e1"))
	assert.True(t, e.mux.Subscribed(domain.SourceMarket, "e1"),
		"an event without market ids is watched by its own id")
}

func TestRequestMoreExtendsList(t *testing.T) {
	poller := &fakePoller{batch: domain.Batch{
		Events: []domain.Event{
			{ID: "e1", Volume24h: 100, SourceVersion: 1},
			{ID: "e2", Volume24h: 50, SourceVersion: 1},
		},
	}}
	e := newTestEngine(poller, &fakeSession{})

	e.RequestMore(domain.TabEvents)
	assert.Equal(t, 1, e.status.Pending())
	runQueued(t, e)

	assert.Equal(t, []string{"e1", "e2"}, e.tabs[domain.TabEvents].IDs())
	assert.Zero(t, e.status.Pending())
	assert.False(t, e.tabs[domain.TabEvents].Fetching())

	require.Len(t, poller.queries, 1)
	assert.Equal(t, 0, poller.queries[0].Offset)
	assert.Equal(t, "volume24hr", poller.queries[0].OrderBy)
}

func TestRequestMoreFailureAborts(t *testing.T) {
	poller := &fakePoller{err: errors.New("gamma down")}
	e := newTestEngine(poller, &fakeSession{})

	e.RequestMore(domain.TabEvents)
	runQueued(t, e)

	assert.False(t, e.tabs[domain.TabEvents].Fetching())
	assert.Empty(t, e.tabs[domain.TabEvents].IDs())
	assert.Contains(t, e.status.TakeNotice(), "load more failed")
	assert.Zero(t, e.status.Pending())
}

func TestSwitchTabDiscardsInFlightFetch(t *testing.T) {
	poller := &fakePoller{batch: domain.Batch{
		Events: []domain.Event{{ID: "e1", Volume24h: 100, SourceVersion: 1}},
	}}
	e := newTestEngine(poller, &fakeSession{})

	e.RequestMore(domain.TabEvents)

	// The user moves to another tab before the fetch lands.
	e.SelectTab(domain.TabBreaking)
	runQueued(t, e)

	assert.Empty(t, e.tabs[domain.TabEvents].IDs(), "a completed fetch for a left tab must not extend its list")
	assert.False(t, e.tabs[domain.TabEvents].Fetching())
	assert.Zero(t, e.status.Pending())

	// Coming back, pagination starts where it left off.
	e.SelectTab(domain.TabEvents)
	e.RequestMore(domain.TabEvents)
	runQueued(t, e)
	assert.Equal(t, []string{"e1"}, e.tabs[domain.TabEvents].IDs())
	require.Len(t, poller.queries, 2)
	assert.Equal(t, 0, poller.queries[1].Offset, "the discarded page must not advance the cursor")
}

func TestSearchInstallsTransientResults(t *testing.T) {
	poller := &fakePoller{batch: domain.Batch{
		Events: []domain.Event{{ID: "e9", Title: "Fed cut", SourceVersion: 1}},
	}}
	e := newTestEngine(poller, &fakeSession{})
	putEvent(e.store, domain.Event{ID: "e1", Volume24h: 100})
	e.tabs[domain.TabEvents].Rebuild()

	e.Search(domain.TabEvents, "fed")
	runQueued(t, e)

	on, query := e.tabs[domain.TabEvents].SearchActive()
	assert.True(t, on)
	assert.Equal(t, "fed", query)
	assert.Equal(t, []string{"e9"}, e.tabs[domain.TabEvents].SearchIDs())
	assert.Equal(t, []string{"fed"}, poller.searches)

	// The fetched entity is merged so results render from the store.
	_, ok := e.store.Event("e9")
	assert.True(t, ok)

	e.ClearSearch(domain.TabEvents)
	on, _ = e.tabs[domain.TabEvents].SearchActive()
	assert.False(t, on)
	assert.Equal(t, []string{"e1"}, e.tabs[domain.TabEvents].IDs(), "cached list survives search")
}

func TestSearchEmptyQueryIgnored(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	e.Search(domain.TabEvents, "")
	select {
	case <-e.reqs:
		t.Fatal("empty query must not enqueue a request")
	default:
	}
}

func TestEnqueueOverflowDropsRequest(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	for i := 0; i < cap(e.reqs); i++ {
		e.reqs <- func(context.Context) {}
	}

	e.Search(domain.TabEvents, "overflow")
	assert.Equal(t, "busy, request dropped", e.status.TakeNotice())
	assert.Zero(t, e.status.Pending())
}

func TestEnqueueOverflowReleasesCursor(t *testing.T) {
	e := newTestEngine(&fakePoller{}, &fakeSession{})
	for i := 0; i < cap(e.reqs); i++ {
		e.reqs <- func(context.Context) {}
	}

	e.RequestMore(domain.TabEvents)
	assert.Equal(t, "busy, request dropped", e.status.TakeNotice())
	assert.False(t, e.tabs[domain.TabEvents].Fetching(), "a dropped load-more must not leave the cursor in flight")

	// Once the queue drains, pagination works again.
	for len(e.reqs) > 0 {
		<-e.reqs
	}
	e.RequestMore(domain.TabEvents)
	assert.True(t, e.tabs[domain.TabEvents].Fetching())
	runQueued(t, e)
	assert.False(t, e.tabs[domain.TabEvents].Fetching())
}

func TestCycleSortRefreshesFirstPage(t *testing.T) {
	poller := &fakePoller{batch: domain.Batch{
		Events: []domain.Event{{ID: "e1", VolumeTotal: 10, SourceVersion: 1}},
	}}
	e := newTestEngine(poller, &fakeSession{})

	got := e.CycleSort(domain.TabEvents)
	assert.Equal(t, SortVolumeTotal, got)
	runQueued(t, e)

	require.Len(t, poller.queries, 1)
	assert.Equal(t, "volume", poller.queries[0].OrderBy, "first page is fetched under the new order")
	assert.Equal(t, 0, poller.queries[0].Offset)
}

func TestEngineRunEndToEnd(t *testing.T) {
	marketDialer := newFakeDialer(domain.SourceMarket)
	tradeDialer := newFakeDialer(domain.SourceTrades)
	poller := &fakePoller{batch: domain.Batch{
		Events: []domain.Event{{ID: "e1", Title: "Fed", MarketIDs: []string{"m1"}, Volume24h: 100, SourceVersion: 1}},
		Markets: []domain.Market{{
			ID: "m1", EventID: "e1", Question: "Cut?",
			Outcomes:      []domain.Outcome{{Name: "Yes", Price: 0.5}},
			SourceVersion: 1,
		}},
	}}
	e := newTestEngine(poller, &fakeSession{}, marketDialer, tradeDialer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// The startup refresh lands through the request workers.
	require.Eventually(t, func() bool {
		return len(e.GetSnapshot(domain.TabEvents, domain.PanelList, "").Events) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Watching the event brings up both streams.
	require.True(t, e.ToggleWatch("e1"))
	conn := awaitConn(t, marketDialer)
	awaitConn(t, tradeDialer)

	// A live tick flows mux -> merger -> controllers -> snapshot.
	conn.events <- domain.StreamEvent{Kind: domain.KindPriceTick, Tick: &domain.PriceTick{
		MarketID: "m1", Outcome: "Yes", Price: 0.71, Seq: 7,
	}}
	require.Eventually(t, func() bool {
		snap := e.GetSnapshot(domain.TabEvents, domain.PanelList, "e1")
		return len(snap.Detail) == 1 && snap.Detail[0].Best.Price == 0.71
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestPageIDsPerTab(t *testing.T) {
	b := domain.Batch{
		Events:  []domain.Event{{ID: "e1"}, {ID: "e2"}},
		Markets: []domain.Market{{ID: "m1"}},
	}
	assert.Equal(t, []string{"e1", "e2"}, pageIDs(domain.TabEvents, b))
	assert.Equal(t, []string{"e1", "e2"}, pageIDs(domain.TabFavorites, b))
	assert.Equal(t, []string{"m1"}, pageIDs(domain.TabBreaking, b))
	assert.Equal(t, []string{"m1"}, pageIDs(domain.TabYield, b))
}

func TestRestoreCachedSeedsTabs(t *testing.T) {
	cache := &fakeCache{snaps: map[domain.Tab]cachedTab{
		domain.TabEvents: {
			snap:   domain.TabSnapshot{Tab: domain.TabEvents, IDs: []string{"e1"}, Offset: 2},
			events: []domain.Event{{ID: "e1", Title: "cached", Volume24h: 9, SourceVersion: 1}},
		},
	}}
	e := New(testEngineConfig(), &fakePoller{}, []domain.StreamDialer{
		newFakeDialer(domain.SourceMarket),
	}, &fakeSession{}, cache, discardLogger())

	e.restoreCached(context.Background())

	assert.Equal(t, []string{"e1"}, e.tabs[domain.TabEvents].IDs())
	ev, ok := e.store.Event("e1")
	require.True(t, ok)
	assert.Equal(t, "cached", ev.Title)
}

type cachedTab struct {
	snap    domain.TabSnapshot
	events  []domain.Event
	markets []domain.Market
}

type fakeCache struct {
	mu    sync.Mutex
	snaps map[domain.Tab]cachedTab
	saved int
}

func (c *fakeCache) Save(_ context.Context, snap domain.TabSnapshot, events []domain.Event, markets []domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snaps == nil {
		c.snaps = make(map[domain.Tab]cachedTab)
	}
	c.snaps[snap.Tab] = cachedTab{snap: snap, events: events, markets: markets}
	c.saved++
	return nil
}

func (c *fakeCache) Load(_ context.Context, tab domain.Tab) (domain.TabSnapshot, []domain.Event, []domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.snaps[tab]
	if !ok {
		return domain.TabSnapshot{}, nil, nil, fmt.Errorf("load %s: %w", tab, domain.ErrNotFound)
	}
	return ct.snap, ct.events, ct.markets, nil
}
