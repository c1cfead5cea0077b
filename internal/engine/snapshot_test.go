package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

func testPublisher(t *testing.T, s *Store) (*Publisher, map[domain.Tab]*Controller) {
	t.Helper()
	tabs := make(map[domain.Tab]*Controller)
	for _, tab := range domain.Tabs {
		tabs[tab] = NewController(tab, testTabConfig(), s)
	}
	pub := NewPublisher(PublisherConfig{MaxRows: 100, TradeRows: 10, LogRows: 10},
		s, tabs, nil, nil, nil, nil)
	return pub, tabs
}

func seedEvents(s *Store) {
	putEvent(s, domain.Event{ID: "e1", Slug: "fed-rate", Title: "Fed rate decision", Volume24h: 100, MarketIDs: []string{"m1"}})
	putEvent(s, domain.Event{ID: "e2", Slug: "election", Title: "Election night", Volume24h: 50, MarketIDs: []string{"m2"}})
	putMarket(s, domain.Market{ID: "m1", EventID: "e1", Question: "Cut in September?", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.62}}})
	putMarket(s, domain.Market{ID: "m2", EventID: "e2", Question: "Incumbent wins?", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.48}}})
}

func TestSnapshotEventsTab(t *testing.T) {
	s := testStore(0)
	seedEvents(s)
	pub, tabs := testPublisher(t, s)
	tabs[domain.TabEvents].Rebuild()

	snap := pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	assert.Equal(t, domain.TabEvents, snap.Tab)
	assert.Equal(t, s.Rev(), snap.StoreRev)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "e1", snap.Events[0].ID)
	assert.Equal(t, "Fed rate decision", snap.Events[0].Title)
	assert.Equal(t, 1, snap.Events[0].Markets)
	assert.Nil(t, snap.Selected)
	assert.False(t, snap.Authenticated)
}

func TestSnapshotSelectionDetailAndTrades(t *testing.T) {
	s := testStore(0)
	seedEvents(s)

	m := NewMerger(s, discardLogger())
	now := time.Now()
	m.ApplyStream(domain.StreamEvent{Kind: domain.KindTradeArrived, Trade: &domain.Trade{
		ID: "t1", MarketID: "m1", Side: "BUY", Price: 0.62, Size: 40, Timestamp: now,
	}})
	m.ApplyStream(domain.StreamEvent{Kind: domain.KindTradeArrived, Trade: &domain.Trade{
		ID: "t2", MarketID: "m1", Side: "SELL", Price: 0.61, Size: 15, Timestamp: now.Add(time.Second),
	}})

	pub, tabs := testPublisher(t, s)
	tabs[domain.TabEvents].Rebuild()

	snap := pub.Snapshot(domain.TabEvents, domain.PanelMarkets, "e1")
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "e1", snap.Selected.ID)

	require.Len(t, snap.Detail, 1)
	assert.Equal(t, "m1", snap.Detail[0].ID)
	assert.Equal(t, "Yes", snap.Detail[0].Best.Name)
	assert.Equal(t, 2, snap.Detail[0].TradeCount)

	require.Len(t, snap.Trades, 2)
	assert.Equal(t, "t2", snap.Trades[0].ID, "trades come newest first")
}

func TestSnapshotAppliesFilter(t *testing.T) {
	s := testStore(0)
	seedEvents(s)
	pub, tabs := testPublisher(t, s)
	tabs[domain.TabEvents].Rebuild()
	tabs[domain.TabEvents].SetFilter("fed")

	snap := pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	assert.Equal(t, "fed", snap.Filter)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "e1", snap.Events[0].ID)
}

func TestSnapshotSearchBypassesCache(t *testing.T) {
	s := testStore(0)
	seedEvents(s)
	pub, tabs := testPublisher(t, s)
	tabs[domain.TabEvents].Rebuild()
	tabs[domain.TabEvents].SetSearchResults("election", []string{"e2"})

	snap := pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	assert.True(t, snap.SearchActive)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "e2", snap.Events[0].ID)

	tabs[domain.TabEvents].ClearSearch()
	snap = pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	assert.False(t, snap.SearchActive)
	assert.Len(t, snap.Events, 2)
}

func TestSnapshotMarketTabs(t *testing.T) {
	s := testStore(0)
	putEvent(s, domain.Event{ID: "e1", Title: "Something big", MarketIDs: []string{"m1"}})
	putMarket(s, domain.Market{ID: "m1", EventID: "e1", Question: "Mover?", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.7, Change24h: 0.2}}})

	pub, tabs := testPublisher(t, s)
	tabs[domain.TabBreaking].Rebuild()

	snap := pub.Snapshot(domain.TabBreaking, domain.PanelList, "m1")
	require.Len(t, snap.Markets, 1)
	assert.Equal(t, "m1", snap.Markets[0].ID)
	assert.Equal(t, 0.2, snap.Markets[0].Change24h)
	require.NotNil(t, snap.Selected, "market selection resolves the parent event")
	assert.Equal(t, "e1", snap.Selected.ID)
	require.Len(t, snap.Detail, 1)
}

func TestSnapshotSkipsUnresolvedIDs(t *testing.T) {
	s := testStore(0)
	seedEvents(s)
	pub, tabs := testPublisher(t, s)
	tabs[domain.TabEvents].Restore(domain.TabSnapshot{
		Tab: domain.TabEvents,
		IDs: []string{"e1", "e-gone", "e2"},
	})

	snap := pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	require.Len(t, snap.Events, 2, "ids the store cannot resolve are dropped from the frame")
	assert.Equal(t, "e1", snap.Events[0].ID)
	assert.Equal(t, "e2", snap.Events[1].ID)
}

func TestSnapshotRowCap(t *testing.T) {
	s := testStore(0)
	seedEvents(s)
	tabs := map[domain.Tab]*Controller{
		domain.TabEvents: NewController(domain.TabEvents, testTabConfig(), s),
	}
	tabs[domain.TabEvents].Rebuild()
	pub := NewPublisher(PublisherConfig{MaxRows: 1, TradeRows: 10, LogRows: 10},
		s, tabs, nil, nil, nil, nil)

	snap := pub.Snapshot(domain.TabEvents, domain.PanelList, "")
	assert.Len(t, snap.Events, 1)
}

func TestSnapshotUnknownTab(t *testing.T) {
	s := testStore(0)
	pub := NewPublisher(PublisherConfig{}, s, map[domain.Tab]*Controller{}, nil, nil, nil, nil)
	snap := pub.Snapshot(domain.Tab("bogus"), domain.PanelList, "")
	assert.Empty(t, snap.Events)
	assert.Empty(t, snap.Markets)
}

func TestStatusBuffer(t *testing.T) {
	st := NewStatus(3)
	for i, msg := range []string{"one", "two", "three", "four"} {
		st.Append("INFO", "entry %s %d", msg, i)
	}

	recent := st.Recent(0)
	require.Len(t, recent, 3, "buffer keeps only the newest max entries")
	assert.Contains(t, recent[0].Message, "two")
	assert.Contains(t, recent[2].Message, "four")

	assert.Len(t, st.Recent(2), 2)

	st.SetPending(2)
	st.SetPending(-1)
	assert.Equal(t, 1, st.Pending())
	st.SetPending(-5)
	assert.Equal(t, 0, st.Pending(), "pending never goes negative")

	st.SetNotice("hello %s", "there")
	assert.Equal(t, "hello there", st.TakeNotice())
	st.ClearNotice()
	assert.Empty(t, st.TakeNotice())
}
