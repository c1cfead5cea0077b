package engine

import (
	"sort"
	"strings"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// PublisherConfig bounds the assembled view.
type PublisherConfig struct {
	// MaxRows caps list rows handed to the UI per snapshot.
	MaxRows int
	// TradeRows caps the trades panel.
	TradeRows int
	// LogRows caps the logs panel.
	LogRows int
}

// Publisher assembles the immutable per-tick view handed to the UI. Every
// entity field in one snapshot is read inside a single store view, so the
// whole frame reflects one store revision; a merge landing mid-assembly is
// picked up by the next tick, never half of this one.
type Publisher struct {
	cfg    PublisherConfig
	store  *Store
	tabs   map[domain.Tab]*Controller
	mux    *Mux
	status *Status

	watched       func(eventID string) bool
	authenticated func() bool
}

// NewPublisher creates a Publisher over the engine's read surfaces. The
// watched and authenticated hooks let the facade expose its own state
// without the publisher reaching back into it.
func NewPublisher(
	cfg PublisherConfig,
	store *Store,
	tabs map[domain.Tab]*Controller,
	mux *Mux,
	status *Status,
	watched func(eventID string) bool,
	authenticated func() bool,
) *Publisher {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 200
	}
	if cfg.TradeRows <= 0 {
		cfg.TradeRows = 30
	}
	if cfg.LogRows <= 0 {
		cfg.LogRows = 50
	}
	if watched == nil {
		watched = func(string) bool { return false }
	}
	if authenticated == nil {
		authenticated = func() bool { return false }
	}
	return &Publisher{
		cfg:           cfg,
		store:         store,
		tabs:          tabs,
		mux:           mux,
		status:        status,
		watched:       watched,
		authenticated: authenticated,
	}
}

// Snapshot builds the view for one tab. selectedID names the list entry the
// UI cursor sits on (an event id on Events/Favorites, a market id on
// Breaking/Yield); empty means no selection.
func (p *Publisher) Snapshot(tab domain.Tab, panel domain.Panel, selectedID string) domain.RenderSnapshot {
	ctl := p.tabs[tab]

	snap := domain.RenderSnapshot{
		Tab:           tab,
		Panel:         panel,
		Authenticated: p.authenticated(),
	}
	if ctl == nil {
		return snap
	}

	// Controller state is captured before the store view opens; controller
	// locks are never taken while the store read lock is held.
	var ids []string
	searchOn, _ := ctl.SearchActive()
	if searchOn {
		ids = ctl.SearchIDs()
	} else {
		ids = ctl.IDs()
	}
	filter := ctl.Filter()
	snap.Filter = filter
	snap.SearchActive = searchOn
	snap.Fetching = ctl.Fetching()

	bookmarked := make(map[string]bool, len(ids))
	for _, id := range ids {
		bookmarked[id] = ctl.Bookmarked(id)
	}

	eventTab := tab == domain.TabEvents || tab == domain.TabFavorites

	p.store.View(func(v *StoreView) {
		snap.StoreRev = v.Rev()

		for _, id := range ids {
			if eventTab {
				ev, ok := v.Event(id)
				if !ok {
					continue
				}
				if !matchesFilter(filter, ev.Title, ev.Slug) {
					continue
				}
				row := eventRow(&ev, p.watched(ev.ID), bookmarked[ev.ID])
				snap.Events = append(snap.Events, row)
				if ev.ID == selectedID {
					sel := row
					snap.Selected = &sel
					snap.Detail = marketRows(v, ev.MarketIDs)
					snap.Trades = eventTrades(v, ev.MarketIDs, p.cfg.TradeRows)
				}
				if len(snap.Events) >= p.cfg.MaxRows {
					break
				}
			} else {
				mk, ok := v.Market(id)
				if !ok {
					continue
				}
				if !matchesFilter(filter, mk.Question, "") {
					continue
				}
				snap.Markets = append(snap.Markets, marketRow(&mk))
				if mk.ID == selectedID {
					if ev, ok := v.Event(mk.EventID); ok {
						sel := eventRow(&ev, p.watched(ev.ID), bookmarked[ev.ID])
						snap.Selected = &sel
					}
					snap.Detail = marketRows(v, []string{mk.ID})
					snap.Trades = v.Trades(mk.ID, p.cfg.TradeRows)
				}
				if len(snap.Markets) >= p.cfg.MaxRows {
					break
				}
			}
		}
	})

	if p.mux != nil {
		snap.Connections = p.mux.States()
	}
	if p.status != nil {
		snap.Log = p.status.Recent(p.cfg.LogRows)
		snap.Pending = p.status.Pending()
		snap.Notice = p.status.TakeNotice()
	}
	return snap
}

func matchesFilter(q, title, slug string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(title), q) ||
		strings.Contains(strings.ToLower(slug), q)
}

func eventRow(ev *domain.Event, watched, bookmarked bool) domain.EventRow {
	return domain.EventRow{
		ID:          ev.ID,
		Slug:        ev.Slug,
		Title:       ev.Title,
		Status:      ev.Status,
		Volume24h:   ev.Volume24h,
		VolumeTotal: ev.VolumeTotal,
		EndTime:     ev.EndTime,
		Markets:     len(ev.MarketIDs),
		Watched:     watched,
		Bookmarked:  bookmarked,
	}
}

func marketRow(mk *domain.Market) domain.MarketRow {
	row := domain.MarketRow{
		ID:         mk.ID,
		EventID:    mk.EventID,
		Question:   mk.Question,
		Change24h:  mk.MaxAbsChange(),
		Volume24h:  mk.Volume24h,
		TradeCount: mk.TradeCount,
		EndTime:    mk.EndTime,
	}
	if best := mk.BestOutcome(); best != nil {
		row.Best = *best
	}
	return row
}

func marketRows(v *StoreView, ids []string) []domain.MarketRow {
	out := make([]domain.MarketRow, 0, len(ids))
	for _, id := range ids {
		if mk, ok := v.Market(id); ok {
			out = append(out, marketRow(&mk))
		}
	}
	return out
}

// eventTrades merges the trade rings of an event's markets, newest first.
func eventTrades(v *StoreView, marketIDs []string, n int) []domain.Trade {
	var all []domain.Trade
	for _, id := range marketIDs {
		all = append(all, v.Trades(id, n)...)
	}
	if len(marketIDs) > 1 {
		sort.Slice(all, func(i, j int) bool {
			return all[i].Timestamp.After(all[j].Timestamp)
		})
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}
