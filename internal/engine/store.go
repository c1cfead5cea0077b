package engine

import (
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// StoreConfig bounds the in-memory state.
type StoreConfig struct {
	// MaxEntities caps events+markets kept in memory; least-recently
	// accessed entries are evicted past the bound. Zero means unbounded.
	MaxEntities int
	// TradeRingCap is the per-market bound on retained trades.
	TradeRingCap int
}

type eventEntry struct {
	ev      domain.Event
	srcHash uint64
	stale   bool

	// lastAccess is touched by readers holding only the shared lock, so
	// every access goes through sync/atomic.
	lastAccess uint64
}

type marketEntry struct {
	mk      domain.Market
	srcHash uint64
	tickSeq uint64
	ring    *TradeRing
	stale   bool

	// lastAccess: same discipline as eventEntry.
	lastAccess uint64
}

// Store is the authoritative in-memory map of events, markets, and trade
// rings. It is mutated only by the Merger under a single writer lock;
// readers take the shared lock and copy what they need, never holding it
// across I/O. Every applied mutation bumps the global revision, which is
// assigned to the mutated entity's Version.
type Store struct {
	mu  sync.RWMutex
	cfg StoreConfig

	rev       uint64
	accessSeq uint64

	events  map[string]*eventEntry
	markets map[string]*marketEntry

	// byCondition maps a market's condition id to its primary id, letting
	// stream units keyed by condition id resolve to the polled entity.
	byCondition map[string]string
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.TradeRingCap <= 0 {
		cfg.TradeRingCap = 100
	}
	return &Store{
		cfg:         cfg,
		events:      make(map[string]*eventEntry),
		markets:     make(map[string]*marketEntry),
		byCondition: make(map[string]string),
	}
}

// Rev returns the current store revision.
func (s *Store) Rev() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Event returns a copy of the event with the given id.
func (s *Store) Event(id string) (domain.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, false
	}
	return copyEvent(&e.ev), true
}

// Market returns a copy of the market with the given id.
func (s *Store) Market(id string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return copyMarket(&m.mk), true
}

// Trades returns up to n recent trades for a market, newest first.
func (s *Store) Trades(marketID string, n int) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return nil
	}
	return m.ring.Recent(n)
}

// View runs fn under the shared read lock with access to consistent copies
// of store state at a single revision. fn must not block on I/O.
func (s *Store) View(fn func(v *StoreView)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&StoreView{s: s})
}

// StoreView is a read handle valid only inside Store.View.
type StoreView struct {
	s *Store
}

// Rev returns the revision the view was captured at.
func (v *StoreView) Rev() uint64 { return v.s.rev }

// Event returns a copy of one event.
func (v *StoreView) Event(id string) (domain.Event, bool) {
	e, ok := v.s.events[id]
	if !ok {
		return domain.Event{}, false
	}
	atomic.StoreUint64(&e.lastAccess, atomic.LoadUint64(&v.s.accessSeq))
	return copyEvent(&e.ev), true
}

// Market returns a copy of one market.
func (v *StoreView) Market(id string) (domain.Market, bool) {
	m, ok := v.s.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	atomic.StoreUint64(&m.lastAccess, atomic.LoadUint64(&v.s.accessSeq))
	return copyMarket(&m.mk), true
}

// Trades returns up to n recent trades for a market, newest first.
func (v *StoreView) Trades(marketID string, n int) []domain.Trade {
	m, ok := v.s.markets[marketID]
	if !ok {
		return nil
	}
	return m.ring.Recent(n)
}

// EachEvent calls fn for every non-stale event.
func (v *StoreView) EachEvent(fn func(domain.Event)) {
	for _, e := range v.s.events {
		if e.stale {
			continue
		}
		fn(copyEvent(&e.ev))
	}
}

// EachMarket calls fn for every non-stale market.
func (v *StoreView) EachMarket(fn func(domain.Market)) {
	for _, m := range v.s.markets {
		if m.stale {
			continue
		}
		fn(copyMarket(&m.mk))
	}
}

// ---------------------------------------------------------------------------
// Locked mutation helpers. Callers (the Merger) must hold s.mu.
// ---------------------------------------------------------------------------

func (s *Store) bumpLocked() uint64 {
	s.rev++
	return s.rev
}

func (s *Store) touchLocked() uint64 {
	return atomic.AddUint64(&s.accessSeq, 1)
}

func (s *Store) eventLocked(id string) *eventEntry   { return s.events[id] }
func (s *Store) marketLocked(id string) *marketEntry { return s.markets[id] }

// resolveMarketLocked finds a market by primary id or, failing that, by
// condition id. Stream units carry the latter.
func (s *Store) resolveMarketLocked(id string) *marketEntry {
	if m := s.markets[id]; m != nil {
		return m
	}
	if primary, ok := s.byCondition[id]; ok {
		return s.markets[primary]
	}
	return nil
}

func (s *Store) putEventLocked(ev domain.Event, hash uint64) {
	ev.Version = s.bumpLocked()
	e, ok := s.events[ev.ID]
	if !ok {
		e = &eventEntry{}
		s.events[ev.ID] = e
	}
	e.ev = ev
	e.srcHash = hash
	e.stale = false
	atomic.StoreUint64(&e.lastAccess, s.touchLocked())
	s.evictLocked()
}

func (s *Store) putMarketLocked(mk domain.Market, hash uint64) {
	mk.Version = s.bumpLocked()
	m, ok := s.markets[mk.ID]
	if !ok {
		m = &marketEntry{ring: NewTradeRing(s.cfg.TradeRingCap)}
		s.markets[mk.ID] = m
	} else {
		// Stream-derived counters survive polled refreshes.
		if mk.TradeCount < m.mk.TradeCount {
			mk.TradeCount = m.mk.TradeCount
		}
	}
	if m.mk.ConditionID != "" && m.mk.ConditionID != mk.ConditionID {
		delete(s.byCondition, m.mk.ConditionID)
	}
	if mk.ConditionID != "" {
		s.byCondition[mk.ConditionID] = mk.ID
	}
	m.mk = mk
	m.srcHash = hash
	m.stale = false
	atomic.StoreUint64(&m.lastAccess, s.touchLocked())
	s.evictLocked()
}

// dropMarketLocked deletes one market entry and its condition-id index.
func (s *Store) dropMarketLocked(id string) {
	m, ok := s.markets[id]
	if !ok {
		return
	}
	if m.mk.ConditionID != "" {
		delete(s.byCondition, m.mk.ConditionID)
	}
	delete(s.markets, id)
}

// removeEventLocked deletes an event and every market it owns.
func (s *Store) removeEventLocked(id string) bool {
	e, ok := s.events[id]
	if !ok {
		return false
	}
	for _, mid := range e.ev.MarketIDs {
		s.dropMarketLocked(mid)
	}
	// Sweep markets pointing back at the event in case the id list lagged.
	for mid, m := range s.markets {
		if m.mk.EventID == id {
			s.dropMarketLocked(mid)
		}
	}
	delete(s.events, id)
	s.bumpLocked()
	return true
}

func (s *Store) removeMarketLocked(id string) bool {
	m, ok := s.markets[id]
	if !ok {
		return false
	}
	if e, ok := s.events[m.mk.EventID]; ok {
		ids := e.ev.MarketIDs[:0]
		for _, mid := range e.ev.MarketIDs {
			if mid != id {
				ids = append(ids, mid)
			}
		}
		e.ev.MarketIDs = ids
	}
	s.dropMarketLocked(id)
	s.bumpLocked()
	return true
}

// markStaleLocked flags every event and market absent from seen. Stale
// entities keep their data (avoids flicker from transient API omissions) but
// drop out of full tab rebuilds; deletion happens only on an explicit
// not-found signal.
func (s *Store) markStaleLocked(seen map[string]struct{}) []string {
	var flagged []string
	for id, e := range s.events {
		if _, ok := seen[id]; ok {
			continue
		}
		if !e.stale {
			e.stale = true
			flagged = append(flagged, id)
		}
	}
	for id, m := range s.markets {
		if _, ok := seen[id]; ok {
			continue
		}
		if !m.stale {
			m.stale = true
			flagged = append(flagged, id)
		}
	}
	return flagged
}

// evictLocked enforces the global entity bound, dropping least-recently
// accessed events (with their markets) first, then orphan markets.
func (s *Store) evictLocked() {
	if s.cfg.MaxEntities <= 0 {
		return
	}
	for len(s.events)+len(s.markets) > s.cfg.MaxEntities {
		var (
			oldID  string
			oldAcc uint64
			isMkt  bool
		)
		for id, e := range s.events {
			if acc := atomic.LoadUint64(&e.lastAccess); oldID == "" || acc < oldAcc {
				oldID, oldAcc, isMkt = id, acc, false
			}
		}
		for id, m := range s.markets {
			// Markets owned by a live event go with their event.
			if _, owned := s.events[m.mk.EventID]; owned {
				continue
			}
			if acc := atomic.LoadUint64(&m.lastAccess); oldID == "" || acc < oldAcc {
				oldID, oldAcc, isMkt = id, acc, true
			}
		}
		if oldID == "" {
			return
		}
		if isMkt {
			s.dropMarketLocked(oldID)
		} else {
			e := s.events[oldID]
			for _, mid := range e.ev.MarketIDs {
				s.dropMarketLocked(mid)
			}
			delete(s.events, oldID)
		}
	}
}

func copyEvent(ev *domain.Event) domain.Event {
	out := *ev
	out.Tags = append([]string(nil), ev.Tags...)
	out.MarketIDs = append([]string(nil), ev.MarketIDs...)
	return out
}

func copyMarket(mk *domain.Market) domain.Market {
	out := *mk
	out.Outcomes = append([]domain.Outcome(nil), mk.Outcomes...)
	return out
}
