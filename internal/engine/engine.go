package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// Config tunes the engine facade.
type Config struct {
	Store     StoreConfig
	Mux       MuxConfig
	Tabs      TabConfig
	Publisher PublisherConfig

	// PollInterval is the cadence of the background refresh of the first
	// page of active events.
	PollInterval time.Duration
	// SearchLimit caps server-side search results.
	SearchLimit int
	// SnapshotInterval is the cadence of tab snapshot persistence. Zero
	// disables persistence.
	SnapshotInterval time.Duration
	// Workers is the number of goroutines serving queued user requests.
	Workers int
}

// Engine is the live market state engine: it owns the store, merger, stream
// multiplexer, tab controllers, and snapshot publisher, and exposes the
// operations the UI calls. All UI-facing methods are safe for concurrent
// use; network work triggered by them runs on the request queue so the
// render loop never blocks on I/O.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store  *Store
	merger *Merger
	mux    *Mux
	status *Status
	pub    *Publisher
	tabs   map[domain.Tab]*Controller

	poller  domain.Poller
	session domain.Session
	cache   domain.SnapshotCache

	reqs chan func(ctx context.Context)

	mu        sync.Mutex
	watched   map[string]watchKeys // event id -> stream keys held for it
	bookmarks map[string]struct{}
}

// New wires an Engine from its collaborators. cache may be nil (no snapshot
// persistence); dialers drive the stream multiplexer, one per source.
func New(
	cfg Config,
	poller domain.Poller,
	dialers []domain.StreamDialer,
	session domain.Session,
	cache domain.SnapshotCache,
	logger *slog.Logger,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 25
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	store := NewStore(cfg.Store)
	status := NewStatus(200)
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
		store:     store,
		merger:    NewMerger(store, logger),
		mux:       NewMux(dialers, cfg.Mux, logger),
		status:    status,
		tabs:      make(map[domain.Tab]*Controller, len(domain.Tabs)),
		poller:    poller,
		session:   session,
		cache:     cache,
		reqs:      make(chan func(ctx context.Context), 64),
		watched:   make(map[string]watchKeys),
		bookmarks: make(map[string]struct{}),
	}
	for _, tab := range domain.Tabs {
		e.tabs[tab] = NewController(tab, cfg.Tabs, store)
	}
	e.pub = NewPublisher(cfg.Publisher, store, e.tabs, e.mux, status, e.isWatched, e.authenticated)
	return e
}

// Status exposes the status stream, e.g. to install a LogHandler.
func (e *Engine) Status() *Status { return e.status }

// SetLogger replaces the loggers of the engine and its components. Must be
// called before Run; the dashboard uses it to route logs into the status
// buffer once the UI owns the terminal.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.logger = logger.With(slog.String("component", "engine"))
	e.merger.logger = logger.With(slog.String("component", "merger"))
	e.mux.logger = logger.With(slog.String("component", "mux"))
}

// GetSnapshot assembles the version-consistent view for one tab.
func (e *Engine) GetSnapshot(tab domain.Tab, panel domain.Panel, selectedID string) domain.RenderSnapshot {
	return e.pub.Snapshot(tab, panel, selectedID)
}

// SortBy returns a tab's active ordering.
func (e *Engine) SortBy(tab domain.Tab) SortBy {
	if ctl := e.tabs[tab]; ctl != nil {
		return ctl.SortBy()
	}
	return SortVolume24h
}

// CycleSort advances a tab's ordering, resets its pagination, and fetches
// the first page under the new order.
func (e *Engine) CycleSort(tab domain.Tab) SortBy {
	ctl := e.tabs[tab]
	if ctl == nil {
		return SortVolume24h
	}
	s := ctl.CycleSort()
	e.Refresh(tab)
	return s
}

// SetFilter installs a tab's local filter. Purely local: applied at
// snapshot assembly, no store mutation, no network.
func (e *Engine) SetFilter(tab domain.Tab, q string) {
	if ctl := e.tabs[tab]; ctl != nil {
		ctl.SetFilter(q)
	}
}

// Search runs a server-side search and installs the results as the tab's
// transient list. The cached tab list is untouched and restored by
// ClearSearch.
func (e *Engine) Search(tab domain.Tab, query string) {
	ctl := e.tabs[tab]
	if ctl == nil || query == "" {
		return
	}
	e.status.SetPending(1)
	e.enqueue(func(ctx context.Context) {
		defer e.status.SetPending(-1)
		batch, err := e.poller.Search(ctx, query, e.cfg.SearchLimit)
		if err != nil {
			e.logger.Warn("search failed", slog.String("query", query), slog.String("error", err.Error()))
			e.status.SetNotice("search failed: %s", err.Error())
			return
		}
		mutated := e.merger.ApplyBatch(batch)
		e.invalidateAll(mutated)
		ids := make([]string, 0, len(batch.Events))
		for i := range batch.Events {
			ids = append(ids, batch.Events[i].ID)
		}
		ctl.SetSearchResults(query, ids)
	})
}

// ClearSearch drops a tab's transient search results.
func (e *Engine) ClearSearch(tab domain.Tab) {
	if ctl := e.tabs[tab]; ctl != nil {
		ctl.ClearSearch()
	}
}

// RequestMore extends a tab's list by one page. A second call while a fetch
// is outstanding is a no-op; results arriving after the tab was refreshed
// present a dead cursor token and are discarded.
func (e *Engine) RequestMore(tab domain.Tab) {
	ctl := e.tabs[tab]
	if ctl == nil {
		return
	}
	q, token, ok := ctl.BeginFetch()
	if !ok {
		return
	}
	e.status.SetPending(1)
	queued := e.enqueue(func(ctx context.Context) {
		defer e.status.SetPending(-1)
		batch, err := e.poller.FetchEvents(ctx, q)
		if err != nil {
			ctl.AbortFetch(token)
			if errors.Is(err, context.Canceled) {
				err = domain.ErrFetchCancelled
			} else {
				e.status.SetNotice("load more failed: %s", err.Error())
			}
			e.logger.Warn("load more failed", slog.String("tab", string(tab)), slog.String("error", err.Error()))
			return
		}
		if !ctl.FetchActive(token) {
			// The tab was reset or left while the fetch was in flight. The
			// page is discarded wholesale: merging it would still grow the
			// hidden list through invalidation.
			return
		}
		mutated := e.merger.ApplyBatch(batch)
		e.invalidateAll(mutated)
		ctl.CompleteFetch(token, pageIDs(tab, batch))
	})
	if !queued {
		// The queue rejected the work; release the cursor or every later
		// load-more on this tab would be a silent no-op.
		ctl.AbortFetch(token)
	}
}

// SelectTab records that the UI moved to tab. In-flight load-mores on the
// tabs left behind are cancelled so their results cannot extend a hidden
// list behind the user's back.
func (e *Engine) SelectTab(tab domain.Tab) {
	for t, ctl := range e.tabs {
		if t != tab {
			ctl.CancelFetch()
		}
	}
}

// Refresh resets a tab's cursor and list and fetches the first page.
func (e *Engine) Refresh(tab domain.Tab) {
	ctl := e.tabs[tab]
	if ctl == nil {
		return
	}
	ctl.Reset()
	e.RequestMore(tab)
}

/// watchKeys holds the per-source subscription keys a watched event pins.
// The two streams address a market differently: the market channel by its
// outcome token ids, the trade filter by its condition id.
type watchKeys struct {
	market []string
	trade  []string
}

// ToggleWatch flips live streaming for an event's markets: price ticks and
// trades are subscribed on watch, released on unwatch. Reports the new
// watched state.
func (e *Engine) ToggleWatch(eventID string) bool {
	ev, ok := e.store.Event(eventID)
	if !ok {
		return false
	}

	e.mu.Lock()
	keys, watching := e.watched[eventID]
	if watching {
		delete(e.watched, eventID)
	} else {
		keys = e.resolveWatchKeys(&ev)
		e.watched[eventID] = keys
	}
	e.mu.Unlock()

	for _, k := range keys.market {
		if watching {
			e.mux.Unsubscribe(domain.SourceMarket, k)
		} else {
			e.mux.Subscribe(domain.SourceMarket, k)
		}
	}
	for _, k := range keys.trade {
		if watching {
			e.mux.Unsubscribe(domain.SourceTrades, k)
		} else {
			e.mux.Subscribe(domain.SourceTrades, k)
		}
	}
	e.logger.Info("watch toggled",
		slog.String("event_id", eventID),
		slog.Bool("watching", !watching),
		slog.Int("keys", len(keys.market)+len(keys.trade)),
	)
	return !watching
}

// resolveWatchKeys maps an event's markets to their streaming keys. A market
// the store cannot resolve falls back to its own id on both streams; an
// event listing no markets at all is watched by its event id, best effort.
func (e *Engine) resolveWatchKeys(ev *domain.Event) watchKeys {
	var keys watchKeys
	for _, mid := range ev.MarketIDs {
		mk, ok := e.store.Market(mid)
		if !ok {
			keys.market = append(keys.market, mid)
			keys.trade = append(keys.trade, mid)
			continue
		}
		tokens := 0
		for _, o := range mk.Outcomes {
			if o.TokenID != "" {
				keys.market = append(keys.market, o.TokenID)
				tokens++
			}
		}
		if tokens == 0 {
			keys.market = append(keys.market, mid)
		}
		if mk.ConditionID != "" {
			keys.trade = append(keys.trade, mk.ConditionID)
		} else {
			keys.trade = append(keys.trade, mid)
		}
	}
	if len(ev.MarketIDs) == 0 {
		keys.market = append(keys.market, ev.ID)
		keys.trade = append(keys.trade, ev.ID)
	}
	return keys
}

// ToggleBookmark flips favorites membership for an event. The session check
// is synchronous and fails closed: without a valid session nothing changes
// and ErrUnauthenticated is returned.
func (e *Engine) ToggleBookmark(ctx context.Context, eventID string) error {
	if e.session == nil || !e.session.Valid() {
		e.status.SetNotice("sign in to bookmark")
		return domain.ErrUnauthenticated
	}

	e.mu.Lock()
	_, on := e.bookmarks[eventID]
	e.mu.Unlock()

	if err := e.session.SetBookmark(ctx, eventID, !on); err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			e.status.SetNotice("sign in to bookmark")
		} else {
			e.status.SetNotice("bookmark failed: %s", err.Error())
		}
		return err
	}

	e.mu.Lock()
	if on {
		delete(e.bookmarks, eventID)
	} else {
		e.bookmarks[eventID] = struct{}{}
	}
	ids := make([]string, 0, len(e.bookmarks))
	for id := range e.bookmarks {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, ctl := range e.tabs {
		ctl.SetBookmarks(ids)
	}
	return nil
}

// Run drives the engine until ctx is done: the stream multiplexer, the feed
// pump, the background poll loop, the request workers, and snapshot
// persistence. Before the loops start it pre-populates state from the
// snapshot cache and loads bookmarks, both best-effort.
func (e *Engine) Run(ctx context.Context) error {
	e.restoreCached(ctx)
	e.loadBookmarks(ctx)
	e.Refresh(domain.TabEvents)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.mux.Run(ctx) })
	g.Go(func() error { return e.pumpFeed(ctx) })
	g.Go(func() error { return e.pollLoop(ctx) })
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error { return e.serveRequests(ctx) })
	}
	if e.cache != nil && e.cfg.SnapshotInterval > 0 {
		g.Go(func() error { return e.persistLoop(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------

func (e *Engine) authenticated() bool {
	return e.session != nil && e.session.Valid()
}

func (e *Engine) isWatched(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.watched[eventID]
	return ok
}

// enqueue hands work to the request workers, reporting whether it was
// accepted. A full queue drops the request rather than blocking the caller.
func (e *Engine) enqueue(fn func(ctx context.Context)) bool {
	select {
	case e.reqs <- fn:
		return true
	default:
		e.status.SetNotice("busy, request dropped")
		e.status.SetPending(-1)
		return false
	}
}

func (e *Engine) serveRequests(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.reqs:
			fn(ctx)
		}
	}
}

// pumpFeed drains the multiplexer feed into the merger and turns the
// resulting mutated-id sets into controller invalidations.
func (e *Engine) pumpFeed(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.mux.Feed():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case domain.KindConnectionLost:
				e.status.Append("WARN", "%s stream lost", ev.Source)
			case domain.KindConnectionRestored:
				e.status.Append("INFO", "%s stream restored", ev.Source)
			default:
				if mutated := e.merger.ApplyStream(ev); len(mutated) > 0 {
					e.invalidateAll(mutated)
				}
			}
		}
	}
}

// pollLoop refreshes the first page of active events on a fixed cadence so
// list data stays fresh without user interaction.
func (e *Engine) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q := domain.PollQuery{
				OrderBy: SortVolume24h.OrderBy(),
				Limit:   e.cfg.Tabs.PageSize,
			}
			batch, err := e.poller.FetchEvents(ctx, q)
			if err != nil {
				e.logger.Warn("background poll failed", slog.String("error", err.Error()))
				continue
			}
			mutated := e.merger.ApplyBatch(batch)
			e.invalidateAll(mutated)
		}
	}
}

func (e *Engine) invalidateAll(mutated []string) {
	if len(mutated) == 0 {
		return
	}
	for _, ctl := range e.tabs {
		ctl.Invalidate(mutated)
	}
}

// restoreCached pre-populates the store and tab lists from persisted
// snapshots so the first frame renders before any network round trip.
// Stale-while-revalidate: the first live poll replaces anything outdated.
func (e *Engine) restoreCached(ctx context.Context) {
	if e.cache == nil {
		return
	}
	for _, tab := range domain.Tabs {
		snap, events, markets, err := e.cache.Load(ctx, tab)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				e.logger.Debug("snapshot load failed",
					slog.String("tab", string(tab)), slog.String("error", err.Error()))
			}
			continue
		}
		e.merger.ApplyBatch(domain.Batch{Events: events, Markets: markets})
		e.tabs[tab].Restore(snap)
		e.logger.Info("tab restored from cache",
			slog.String("tab", string(tab)),
			slog.Int("rows", len(snap.IDs)),
			slog.Time("saved_at", snap.SavedAt),
		)
	}
}

func (e *Engine) loadBookmarks(ctx context.Context) {
	if !e.authenticated() {
		return
	}
	ids, err := e.session.Bookmarks(ctx)
	if err != nil {
		e.logger.Warn("bookmark load failed", slog.String("error", err.Error()))
		return
	}
	e.mu.Lock()
	e.bookmarks = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		e.bookmarks[id] = struct{}{}
	}
	e.mu.Unlock()
	for _, ctl := range e.tabs {
		ctl.SetBookmarks(ids)
	}
}

// persistLoop saves each tab's snapshot plus the entities it references.
func (e *Engine) persistLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for tab, ctl := range e.tabs {
				snap := ctl.Snapshot()
				events, markets := e.collectEntities(snap.IDs)
				if err := e.cache.Save(ctx, snap, events, markets); err != nil {
					e.logger.Debug("snapshot save failed",
						slog.String("tab", string(tab)), slog.String("error", err.Error()))
				}
			}
		}
	}
}

// collectEntities resolves a tab's ids into the events and markets needed
// to re-render it cold.
func (e *Engine) collectEntities(ids []string) ([]domain.Event, []domain.Market) {
	var events []domain.Event
	var markets []domain.Market
	e.store.View(func(v *StoreView) {
		for _, id := range ids {
			if ev, ok := v.Event(id); ok {
				events = append(events, ev)
				for _, mid := range ev.MarketIDs {
					if mk, ok := v.Market(mid); ok {
						markets = append(markets, mk)
					}
				}
				continue
			}
			if mk, ok := v.Market(id); ok {
				markets = append(markets, mk)
			}
		}
	})
	return events, markets
}

// pageIDs extracts the member candidates a fetched page contributes to a
// tab's list.
func pageIDs(tab domain.Tab, b domain.Batch) []string {
	switch tab {
	case domain.TabBreaking, domain.TabYield:
		ids := make([]string, 0, len(b.Markets))
		for i := range b.Markets {
			ids = append(ids, b.Markets[i].ID)
		}
		return ids
	default:
		ids := make([]string, 0, len(b.Events))
		for i := range b.Events {
			ids = append(ids, b.Events[i].ID)
		}
		return ids
	}
}
