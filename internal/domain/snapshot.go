package domain

import "time"

// Tab is one of the four top-level curated views.
type Tab string

const (
	TabEvents    Tab = "events"
	TabFavorites Tab = "favorites"
	TabBreaking  Tab = "breaking"
	TabYield     Tab = "yield"
)

// Tabs lists all tabs in display order.
var Tabs = []Tab{TabEvents, TabFavorites, TabBreaking, TabYield}

// Next returns the tab to the right, wrapping around.
func (t Tab) Next() Tab {
	for i, tab := range Tabs {
		if tab == t {
			return Tabs[(i+1)%len(Tabs)]
		}
	}
	return TabEvents
}

// Prev returns the tab to the left, wrapping around.
func (t Tab) Prev() Tab {
	for i, tab := range Tabs {
		if tab == t {
			return Tabs[(i+len(Tabs)-1)%len(Tabs)]
		}
	}
	return TabEvents
}

// Panel is the focused pane within a tab.
type Panel string

const (
	PanelList    Panel = "list"
	PanelMarkets Panel = "markets"
	PanelTrades  Panel = "trades"
	PanelLogs    Panel = "logs"
)

// TabSnapshot is the persisted form of one tab's derived list: the ordered
// entity ids, the pagination offset they cover, and the store revision they
// were derived from. Replaced atomically, never patched.
type TabSnapshot struct {
	Tab      Tab       `json:"tab"`
	IDs      []string  `json:"ids"`
	Offset   int       `json:"offset"`
	StoreRev uint64    `json:"store_rev"`
	SavedAt  time.Time `json:"saved_at"`
}

// ConnStatus describes one streaming connection for the status panel.
type ConnStatus struct {
	Source    StreamSource
	State     string // "idle", "connecting", "live", "reconnecting"
	Subs      int
	LastError string
}

// StatusEntry is one line for the logs panel.
type StatusEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// EventRow is one rendered row of an events list.
type EventRow struct {
	ID          string
	Slug        string
	Title       string
	Status      EventStatus
	Volume24h   float64
	VolumeTotal float64
	EndTime     *time.Time
	Markets     int
	Watched     bool
	Bookmarked  bool
}

// MarketRow is one rendered row of a markets list (Breaking/Yield tabs and
// the markets panel).
type MarketRow struct {
	ID         string
	EventID    string
	Question   string
	Best       Outcome
	Change24h  float64
	Volume24h  float64
	TradeCount int
	EndTime    *time.Time
}

// RenderSnapshot is the immutable, version-consistent view handed to the UI
// each tick. All fields are derived from the same store revision.
type RenderSnapshot struct {
	Tab      Tab
	Panel    Panel
	StoreRev uint64

	Events   []EventRow
	Markets  []MarketRow
	Selected *EventRow
	Detail   []MarketRow
	Trades   []Trade

	Filter       string
	SearchActive bool

	Connections []ConnStatus
	Log         []StatusEntry
	Pending     int
	Notice      string

	Authenticated bool
	Fetching      bool
}
