package domain

import "time"

// Trade is a single fill reported by the trade-activity stream. Immutable
// once created.
type Trade struct {
	ID        string
	MarketID  string
	EventSlug string
	Side      string // "BUY" or "SELL"
	Outcome   string
	Price     float64
	Size      float64
	Timestamp time.Time
	User      string
}

// Value returns the notional value of the fill in USD.
func (t Trade) Value() float64 {
	return t.Price * t.Size
}
