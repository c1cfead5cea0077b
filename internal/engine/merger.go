package engine

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// Merger applies inbound units (polled batches, stream events) to the Store.
// It is the single serialization point for writes: each Apply call takes the
// store's writer lock exactly once. Merges are gated by source version so
// out-of-order delivery converges to last-writer-wins; a unit carrying an
// equal-or-lower version than stored changes nothing.
//
// Apply methods return the ids of entities actually mutated. That return
// value is the sole invalidation signal consumed by the tab controllers.
type Merger struct {
	store  *Store
	logger *slog.Logger
}

// NewMerger creates a Merger writing to store.
func NewMerger(store *Store, logger *slog.Logger) *Merger {
	return &Merger{
		store:  store,
		logger: logger.With(slog.String("component", "merger")),
	}
}

// ApplyBatch merges one polled batch. Entities present in the store but
// absent from a full listing are marked stale, not deleted; only ids in
// Removed are dropped.
func (m *Merger) ApplyBatch(b domain.Batch) []string {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var mutated []string
	seen := make(map[string]struct{}, len(b.Events))

	for i := range b.Events {
		ev := b.Events[i]
		seen[ev.ID] = struct{}{}
		if m.applyEventLocked(ev) {
			mutated = append(mutated, ev.ID)
		}
	}

	for i := range b.Markets {
		mk := b.Markets[i]
		seen[mk.ID] = struct{}{}
		if m.applyMarketLocked(mk) {
			mutated = append(mutated, mk.ID)
		}
	}

	for _, id := range b.Removed {
		if s.removeEventLocked(id) || s.removeMarketLocked(id) {
			mutated = append(mutated, id)
		}
	}

	if b.Full {
		mutated = append(mutated, s.markStaleLocked(seen)...)
	}

	return mutated
}

// ApplyStream merges one stream event. Connection events mutate nothing.
func (m *Merger) ApplyStream(ev domain.StreamEvent) []string {
	switch ev.Kind {
	case domain.KindPriceTick:
		return m.applyTick(ev.Tick)
	case domain.KindTradeArrived:
		return m.applyTrade(ev.Trade)
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------

// applyEventLocked merges one polled event, returning whether it changed.
func (m *Merger) applyEventLocked(ev domain.Event) bool {
	s := m.store
	hash := hashEvent(&ev)

	if cur := s.eventLocked(ev.ID); cur != nil {
		if stale := staleAgainst(ev.SourceVersion, hash, cur.ev.SourceVersion, cur.srcHash); stale {
			if cur.stale {
				// Reappearing in a poll clears the stale flag even when
				// the content did not move.
				cur.stale = false
				return true
			}
			m.logger.Debug("discarded stale event merge",
				slog.String("event_id", ev.ID),
				slog.Uint64("incoming", ev.SourceVersion),
				slog.Uint64("stored", cur.ev.SourceVersion),
			)
			return false
		}
	}

	s.putEventLocked(ev, hash)
	return true
}

// applyMarketLocked merges one polled market. A market referencing an event
// the store has never seen creates a placeholder parent so the back-reference
// always resolves; the next poll for that event replaces the placeholder.
func (m *Merger) applyMarketLocked(mk domain.Market) bool {
	s := m.store
	hash := hashMarket(&mk)

	if cur := s.marketLocked(mk.ID); cur != nil {
		if stale := staleAgainst(mk.SourceVersion, hash, cur.mk.SourceVersion, cur.srcHash); stale {
			if cur.stale {
				cur.stale = false
				return true
			}
			return false
		}
		// Partial-update discipline: a polled market without outcome data
		// must not wipe streamed prices.
		if len(mk.Outcomes) == 0 {
			mk.Outcomes = cur.mk.Outcomes
		}
	}

	ph := m.detachConditionPlaceholderLocked(&mk)
	m.ensureParentLocked(&mk)
	s.putMarketLocked(mk, hash)
	if ph != nil {
		cur := s.marketLocked(mk.ID)
		if cur.ring.Len() == 0 {
			cur.ring = ph.ring
		}
		if ph.tickSeq > cur.tickSeq {
			cur.tickSeq = ph.tickSeq
		}
		if ph.mk.TradeCount > cur.mk.TradeCount {
			cur.mk.TradeCount = ph.mk.TradeCount
		}
	}
	return true
}

// detachConditionPlaceholderLocked removes a provisional market stored under
// this market's condition id, left behind by stream units that arrived before
// the first poll. The caller transplants its ring and tick gate onto the
// polled entry so streamed trades and ordering survive the handover.
func (m *Merger) detachConditionPlaceholderLocked(mk *domain.Market) *marketEntry {
	s := m.store
	if mk.ConditionID == "" || mk.ConditionID == mk.ID {
		return nil
	}
	ph := s.marketLocked(mk.ConditionID)
	if ph == nil {
		return nil
	}
	detached := &marketEntry{mk: ph.mk, tickSeq: ph.tickSeq, ring: ph.ring}
	if ph.mk.EventID == mk.ConditionID {
		// The placeholder was its own provisional parent.
		s.removeEventLocked(mk.ConditionID)
	} else {
		s.removeMarketLocked(mk.ConditionID)
	}
	return detached
}

// ensureParentLocked guarantees the market's parent event exists and lists
// the market id.
func (m *Merger) ensureParentLocked(mk *domain.Market) {
	s := m.store
	if mk.EventID == "" {
		// First streamed reference to an unseen market: the market becomes
		// its own provisional event until a poll resolves the real parent.
		mk.EventID = mk.ID
	}
	e := s.eventLocked(mk.EventID)
	if e == nil {
		s.putEventLocked(domain.Event{
			ID:        mk.EventID,
			Slug:      mk.EventID,
			Title:     mk.Question,
			Status:    domain.EventStatusInReview,
			EndTime:   mk.EndTime,
			MarketIDs: []string{mk.ID},
		}, 0)
		return
	}
	for _, id := range e.ev.MarketIDs {
		if id == mk.ID {
			return
		}
	}
	e.ev.MarketIDs = append(e.ev.MarketIDs, mk.ID)
}

// applyTick updates one outcome's price and 24h change. Sibling outcomes
// and every other market field are left untouched. The tick's market key is
// a condition id on the wire and resolves through the store's index; a key
// the index cannot resolve creates a provisional market under it.
func (m *Merger) applyTick(t *domain.PriceTick) []string {
	if t == nil {
		return nil
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.resolveMarketLocked(t.MarketID)
	if cur == nil {
		mk := domain.Market{
			ID:       t.MarketID,
			Question: t.MarketID,
			Outcomes: []domain.Outcome{{Name: t.Outcome, Price: t.Price, Change24h: t.Change24h}},
		}
		m.ensureParentLocked(&mk)
		s.putMarketLocked(mk, 0)
		cur = s.marketLocked(t.MarketID)
		cur.tickSeq = t.Seq
		return []string{t.MarketID, cur.mk.EventID}
	}

	if t.Seq != 0 && t.Seq <= cur.tickSeq {
		m.logger.Debug("discarded stale tick",
			slog.String("market_id", t.MarketID),
			slog.Uint64("seq", t.Seq),
			slog.Uint64("applied", cur.tickSeq),
		)
		return nil
	}

	found := false
	for i := range cur.mk.Outcomes {
		if cur.mk.Outcomes[i].Name == t.Outcome || cur.mk.Outcomes[i].TokenID == t.Outcome {
			cur.mk.Outcomes[i].Price = t.Price
			cur.mk.Outcomes[i].Change24h = t.Change24h
			found = true
			break
		}
	}
	if !found {
		cur.mk.Outcomes = append(cur.mk.Outcomes, domain.Outcome{
			Name: t.Outcome, Price: t.Price, Change24h: t.Change24h,
		})
	}
	cur.tickSeq = t.Seq
	cur.mk.Version = s.bumpLocked()
	atomic.StoreUint64(&cur.lastAccess, s.touchLocked())
	return []string{cur.mk.ID}
}

// applyTrade appends to the market's trade ring and bumps its trade count.
// Duplicate trade ids (reconnect replays) change nothing.
func (m *Merger) applyTrade(t *domain.Trade) []string {
	if t == nil {
		return nil
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.resolveMarketLocked(t.MarketID)
	if cur == nil {
		mk := domain.Market{ID: t.MarketID, EventID: t.EventSlug, Question: t.MarketID}
		m.ensureParentLocked(&mk)
		s.putMarketLocked(mk, 0)
		cur = s.marketLocked(t.MarketID)
	}

	if !cur.ring.Insert(*t) {
		return nil
	}
	cur.mk.TradeCount++
	cur.mk.Version = s.bumpLocked()
	atomic.StoreUint64(&cur.lastAccess, s.touchLocked())
	return []string{cur.mk.ID}
}

// ---------------------------------------------------------------------------

// staleAgainst reports whether an incoming (version, hash) pair loses to the
// stored one. With real source versions on both sides it is a strict
// comparison; when either side lacks one the content hash decides.
func staleAgainst(inVer, inHash, curVer, curHash uint64) bool {
	if inVer != 0 && curVer != 0 {
		return inVer <= curVer
	}
	return inHash == curHash
}

func hashEvent(ev *domain.Event) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%.6f|%.6f|%.6f|%d",
		ev.Slug, ev.Title, ev.Status, ev.Volume24h, ev.VolumeTotal, ev.Liquidity, len(ev.MarketIDs))
	if ev.EndTime != nil {
		fmt.Fprintf(h, "|%d", ev.EndTime.UnixMilli())
	}
	for _, t := range ev.Tags {
		fmt.Fprintf(h, "|%s", t)
	}
	return h.Sum64()
}

func hashMarket(mk *domain.Market) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%.6f|%t", mk.EventID, mk.ConditionID, mk.Question, mk.Volume24h, mk.Closed)
	for i := range mk.Outcomes {
		o := &mk.Outcomes[i]
		fmt.Fprintf(h, "|%s:%.6f:%.6f", o.Name, o.Price, o.Change24h)
	}
	return h.Sum64()
}
