package engine

import "github.com/alanyoungcy/polyterm/internal/domain"

// TradeRing is a bounded buffer of the most-recent trades for one market,
// kept in non-decreasing timestamp order. Trades are deduplicated by id so
// replayed frames after a reconnect are no-ops.
type TradeRing struct {
	trades []domain.Trade
	ids    map[string]struct{}
	cap    int
}

// NewTradeRing creates a ring holding at most capacity trades.
func NewTradeRing(capacity int) *TradeRing {
	if capacity < 1 {
		capacity = 1
	}
	return &TradeRing{
		ids: make(map[string]struct{}),
		cap: capacity,
	}
}

// Insert adds a trade, keeping timestamp order and the capacity bound.
// It reports whether the ring changed: duplicates are dropped, as are
// trades older than the oldest retained entry of a full ring.
func (r *TradeRing) Insert(t domain.Trade) bool {
	if _, dup := r.ids[t.ID]; dup {
		return false
	}

	if len(r.trades) == r.cap {
		if !t.Timestamp.After(r.trades[0].Timestamp) {
			return false
		}
	}

	// Find insertion point from the back; streams are mostly in order so
	// this is O(1) in the common case.
	i := len(r.trades)
	for i > 0 && r.trades[i-1].Timestamp.After(t.Timestamp) {
		i--
	}
	r.trades = append(r.trades, domain.Trade{})
	copy(r.trades[i+1:], r.trades[i:])
	r.trades[i] = t
	r.ids[t.ID] = struct{}{}

	if len(r.trades) > r.cap {
		delete(r.ids, r.trades[0].ID)
		r.trades = r.trades[1:]
	}
	return true
}

// Len returns the number of retained trades.
func (r *TradeRing) Len() int { return len(r.trades) }

// Recent returns up to n trades, newest first.
func (r *TradeRing) Recent(n int) []domain.Trade {
	if n <= 0 || n > len(r.trades) {
		n = len(r.trades)
	}
	out := make([]domain.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = r.trades[len(r.trades)-1-i]
	}
	return out
}
