package engine

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// SortBy selects the events-tab ordering, mirroring the site's sort options.
// Breaking and Yield have fixed orderings and ignore it.
type SortBy int

const (
	SortVolume24h SortBy = iota
	SortVolumeTotal
	SortLiquidity
	SortNewest
	SortEndingSoon
)

func (s SortBy) String() string {
	switch s {
	case SortVolume24h:
		return "24h Vol"
	case SortVolumeTotal:
		return "Total Vol"
	case SortLiquidity:
		return "Liquidity"
	case SortNewest:
		return "Newest"
	case SortEndingSoon:
		return "Ending Soon"
	default:
		return "unknown"
	}
}

// Next cycles to the following sort option.
func (s SortBy) Next() SortBy { return (s + 1) % 5 }

// OrderBy returns the poll order parameter for this sort.
func (s SortBy) OrderBy() string {
	switch s {
	case SortVolumeTotal:
		return "volume"
	case SortLiquidity:
		return "liquidity"
	case SortNewest:
		return "createdAt"
	case SortEndingSoon:
		return "endDate"
	default:
		return "volume24hr"
	}
}

// Ascending reports whether the sort runs smallest-first.
func (s SortBy) Ascending() bool { return s == SortEndingSoon }

// TabConfig holds the per-tab derivation thresholds. All values are product
// constants surfaced through configuration.
type TabConfig struct {
	// BreakingThreshold is the minimum |24h price change| for the
	// Breaking tab, as a fraction (0.05 = 5%).
	BreakingThreshold float64
	// YieldMinProb is the probability floor for the Yield tab.
	YieldMinProb float64
	// YieldHorizon is the maximum time-to-expiry for the Yield tab.
	YieldHorizon time.Duration
	// PageSize is the pagination step for polled fetches.
	PageSize int
}

// Controller owns one tab's derived ordered id list, pagination cursor, and
// local filter. The list is recomputed incrementally from the merger's
// mutated-id sets; a full resort happens only on refresh or cursor reset.
type Controller struct {
	tab   domain.Tab
	cfg   TabConfig
	store *Store

	mu       sync.Mutex
	ids      []string
	keys     map[string]float64
	offset   int
	fetchID  uuid.UUID
	fetching bool
	sortBy   SortBy
	filter   string

	searchOn  bool
	searchIDs []string
	searchFor string

	bookmarks map[string]struct{}

	storeRev uint64
	resorts  int
	now      func() time.Time
}

// NewController creates the controller for one tab.
func NewController(tab domain.Tab, cfg TabConfig, store *Store) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &Controller{
		tab:       tab,
		cfg:       cfg,
		store:     store,
		keys:      make(map[string]float64),
		fetchID:   uuid.New(),
		bookmarks: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Tab returns the tab this controller derives.
func (c *Controller) Tab() domain.Tab { return c.tab }

// IDs returns a copy of the ordered id list.
func (c *Controller) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

// Len returns the current list length.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Resorts returns how many full resorts the controller has performed.
func (c *Controller) Resorts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resorts
}

// SortBy returns the active events ordering.
func (c *Controller) SortBy() SortBy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortBy
}

// CycleSort advances to the next sort option and forces a rebuild.
func (c *Controller) CycleSort() SortBy {
	c.mu.Lock()
	c.sortBy = c.sortBy.Next()
	c.mu.Unlock()
	c.Rebuild()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortBy
}

// Filter returns the local filter query.
func (c *Controller) Filter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// SetFilter stores the local filter predicate input. Filtering is applied
// at snapshot assembly over the cached list; it touches neither the store
// nor the network.
func (c *Controller) SetFilter(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = q
}

// MatchesFilter applies the local predicate to a row title/slug.
func (c *Controller) MatchesFilter(title, slug string) bool {
	c.mu.Lock()
	q := c.filter
	c.mu.Unlock()
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(title), q) ||
		strings.Contains(strings.ToLower(slug), q)
}

// SetBookmarks replaces the favorites membership set (Favorites tab only)
// and rebuilds.
func (c *Controller) SetBookmarks(ids []string) {
	c.mu.Lock()
	c.bookmarks = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.bookmarks[id] = struct{}{}
	}
	c.mu.Unlock()
	c.Rebuild()
}

// Bookmarked reports favorites membership.
func (c *Controller) Bookmarked(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bookmarks[id]
	return ok
}

// SetSearchResults installs a transient, unpaginated result list that
// bypasses the cached ids until cleared.
func (c *Controller) SetSearchResults(query string, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchOn = true
	c.searchFor = query
	c.searchIDs = ids
}

// ClearSearch drops the transient search results.
func (c *Controller) ClearSearch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchOn = false
	c.searchFor = ""
	c.searchIDs = nil
}

// SearchActive reports whether search results are being displayed, and the
// query they answer.
func (c *Controller) SearchActive() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchOn, c.searchFor
}

// SearchIDs returns the transient result list.
func (c *Controller) SearchIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.searchIDs...)
}

// ---------------------------------------------------------------------------
// Pagination cursor
// ---------------------------------------------------------------------------

// BeginFetch marks a load-more in flight and returns the poll query plus the
// cursor token the completion must present. A second call while one fetch
// is outstanding returns ok=false.
func (c *Controller) BeginFetch() (domain.PollQuery, uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetching {
		return domain.PollQuery{}, uuid.Nil, false
	}
	c.fetching = true
	q := domain.PollQuery{
		OrderBy:   c.sortBy.OrderBy(),
		Ascending: c.sortBy.Ascending(),
		Limit:     c.cfg.PageSize,
		Offset:    c.offset,
	}
	return q, c.fetchID, true
}

// CompleteFetch finishes a load-more. Results whose token no longer matches
// the cursor (tab refreshed or reset while the fetch was in flight) are
// discarded; the list is otherwise extended with the new member ids, never
// replacing already-displayed entries.
func (c *Controller) CompleteFetch(token uuid.UUID, pageIDs []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetching = false
	if token != c.fetchID {
		return false
	}
	c.offset += c.cfg.PageSize
	have := make(map[string]struct{}, len(c.ids))
	for _, id := range c.ids {
		have[id] = struct{}{}
	}
	for _, id := range pageIDs {
		if _, dup := have[id]; dup {
			continue
		}
		if key, member := c.evaluate(id); member {
			c.ids = append(c.ids, id)
			c.keys[id] = key
		}
	}
	return true
}

// AbortFetch clears the in-flight flag without advancing the cursor.
func (c *Controller) AbortFetch(token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == c.fetchID {
		c.fetching = false
	}
}

// CancelFetch invalidates the outstanding cursor token, if any. Unlike Reset
// the list and pagination offset are untouched; a completion presenting the
// dead token is discarded. Called when the UI navigates away from the tab.
func (c *Controller) CancelFetch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetching {
		c.fetchID = uuid.New()
		c.fetching = false
	}
}

// FetchActive reports whether token still names the outstanding load-more.
func (c *Controller) FetchActive(token uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching && token == c.fetchID
}

// Fetching reports whether a load-more is outstanding.
func (c *Controller) Fetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// Reset invalidates the cursor (in-flight results will be discarded),
// clears pagination, and forces a full resort.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.fetchID = uuid.New()
	c.fetching = false
	c.offset = 0
	c.mu.Unlock()
	c.Rebuild()
}

// ---------------------------------------------------------------------------
// Derivation
// ---------------------------------------------------------------------------

// evalParams is an immutable copy of the controller settings needed to
// score an entity, so derivation never holds the controller lock while
// reading the store.
type evalParams struct {
	tab       domain.Tab
	cfg       TabConfig
	sortBy    SortBy
	bookmarks map[string]struct{}
	now       time.Time
}

func (c *Controller) paramsLocked() evalParams {
	return evalParams{
		tab:       c.tab,
		cfg:       c.cfg,
		sortBy:    c.sortBy,
		bookmarks: c.bookmarks,
		now:       c.now(),
	}
}

// Rebuild recomputes the full ordered list from the store. Used on refresh,
// cursor reset, bookmark reload, and sort changes; steady-state updates go
// through Invalidate instead.
func (c *Controller) Rebuild() {
	c.mu.Lock()
	p := c.paramsLocked()
	c.mu.Unlock()

	type scored struct {
		id  string
		key float64
	}
	var rows []scored
	var rev uint64

	c.store.View(func(v *StoreView) {
		switch p.tab {
		case domain.TabEvents, domain.TabFavorites:
			v.EachEvent(func(ev domain.Event) {
				if key, ok := evaluateEvent(&ev, p); ok {
					rows = append(rows, scored{ev.ID, key})
				}
			})
		case domain.TabBreaking, domain.TabYield:
			v.EachMarket(func(mk domain.Market) {
				if key, ok := evaluateMarket(&mk, p); ok {
					rows = append(rows, scored{mk.ID, key})
				}
			})
		}
		rev = v.Rev()
	})

	asc := tabAscending(p.tab, p.sortBy)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key == rows[j].key {
			return rows[i].id < rows[j].id
		}
		if asc {
			return rows[i].key < rows[j].key
		}
		return rows[i].key > rows[j].key
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = c.ids[:0]
	c.keys = make(map[string]float64, len(rows))
	for _, r := range rows {
		c.ids = append(c.ids, r.id)
		c.keys[r.id] = r.key
	}
	c.storeRev = rev
	c.resorts++
}

// Invalidate re-evaluates membership and position for the mutated ids only.
// Unaffected entries keep their rank; no full resort is performed.
func (c *Controller) Invalidate(mutated []string) {
	if len(mutated) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range mutated {
		key, member := c.evaluate(id)
		pos := c.indexOfLocked(id)

		if !member {
			if pos >= 0 {
				c.ids = append(c.ids[:pos], c.ids[pos+1:]...)
				delete(c.keys, id)
			}
			continue
		}

		if pos >= 0 {
			if c.keys[id] == key {
				continue
			}
			c.ids = append(c.ids[:pos], c.ids[pos+1:]...)
		}
		c.keys[id] = key
		at := c.insertionPointLocked(key, id)
		c.ids = append(c.ids, "")
		copy(c.ids[at+1:], c.ids[at:])
		c.ids[at] = id
	}
	c.storeRev = c.store.Rev()
}

// evaluate computes (sort key, membership) for an id. Caller must hold
// c.mu; the store read takes its own lock (never the reverse order).
func (c *Controller) evaluate(id string) (float64, bool) {
	p := c.paramsLocked()
	switch p.tab {
	case domain.TabEvents, domain.TabFavorites:
		ev, ok := c.store.Event(id)
		if !ok {
			return 0, false
		}
		return evaluateEvent(&ev, p)
	default:
		mk, ok := c.store.Market(id)
		if !ok {
			return 0, false
		}
		return evaluateMarket(&mk, p)
	}
}

func evaluateEvent(ev *domain.Event, p evalParams) (float64, bool) {
	if ev.Status == domain.EventStatusClosed {
		return 0, false
	}
	if p.tab == domain.TabFavorites {
		if _, fav := p.bookmarks[ev.ID]; !fav {
			return 0, false
		}
	}
	switch p.sortBy {
	case SortVolumeTotal:
		return ev.VolumeTotal, true
	case SortLiquidity:
		return ev.Liquidity, true
	case SortNewest:
		if ev.CreatedAt == nil {
			return 0, true
		}
		return float64(ev.CreatedAt.Unix()), true
	case SortEndingSoon:
		if ev.EndTime == nil {
			return float64(p.now.Add(100 * 365 * 24 * time.Hour).Unix()), true
		}
		return float64(ev.EndTime.Unix()), true
	default:
		return ev.Volume24h, true
	}
}

func evaluateMarket(mk *domain.Market, p evalParams) (float64, bool) {
	if mk.Closed {
		return 0, false
	}
	switch p.tab {
	case domain.TabBreaking:
		change := mk.MaxAbsChange()
		return change, change > p.cfg.BreakingThreshold
	case domain.TabYield:
		best := mk.BestOutcome()
		if best == nil || best.Price < p.cfg.YieldMinProb {
			return 0, false
		}
		if mk.EndTime == nil {
			return 0, false
		}
		ttl := mk.EndTime.Sub(p.now)
		if ttl <= 0 || ttl > p.cfg.YieldHorizon {
			return 0, false
		}
		return float64(mk.EndTime.Unix()), true
	default:
		return 0, false
	}
}

func tabAscending(tab domain.Tab, sortBy SortBy) bool {
	switch tab {
	case domain.TabYield:
		return true
	case domain.TabEvents, domain.TabFavorites:
		return sortBy.Ascending()
	default:
		return false
	}
}

func (c *Controller) ascending() bool {
	return tabAscending(c.tab, c.sortBy)
}

func (c *Controller) indexOfLocked(id string) int {
	for i, have := range c.ids {
		if have == id {
			return i
		}
	}
	return -1
}

// insertionPointLocked finds where a key slots into the ordered list.
func (c *Controller) insertionPointLocked(key float64, id string) int {
	asc := c.ascending()
	return sort.Search(len(c.ids), func(i int) bool {
		k := c.keys[c.ids[i]]
		if k == key {
			return c.ids[i] >= id
		}
		if asc {
			return k >= key
		}
		return k <= key
	})
}

// Snapshot exports the persisted form of the tab list.
func (c *Controller) Snapshot() domain.TabSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.TabSnapshot{
		Tab:      c.tab,
		IDs:      append([]string(nil), c.ids...),
		Offset:   c.offset,
		StoreRev: c.storeRev,
		SavedAt:  c.now(),
	}
}

// Restore seeds the list from a persisted snapshot (stale-while-revalidate
// at startup). Ids missing from the store are kept; rows resolve lazily as
// merges land.
func (c *Controller) Restore(snap domain.TabSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append([]string(nil), snap.IDs...)
	c.offset = snap.Offset
	for _, id := range c.ids {
		if key, ok := c.evaluate(id); ok {
			c.keys[id] = key
		}
	}
}
