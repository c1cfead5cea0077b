package domain

import "time"

// Outcome is one possible result of a market with its probability-like price.
type Outcome struct {
	Name      string
	TokenID   string
	Price     float64 // in [0,1]
	Change24h float64 // signed fraction, e.g. -0.062 for -6.2%
}

// Market represents a single tradable question within an event.
//
// A market is addressed differently per surface: the Gamma API keys it by ID,
// the trade activity stream by ConditionID, and the CLOB market channel by the
// per-outcome token ids. The store indexes ConditionID so streamed units
// resolve back to the polled entity.
type Market struct {
	ID          string
	EventID     string
	ConditionID string
	Question    string
	Outcomes    []Outcome
	Volume24h   float64
	TradeCount  int
	EndTime     *time.Time
	Closed      bool

	// SourceVersion mirrors Event.SourceVersion.
	SourceVersion uint64

	// Version is the store-assigned revision of the last applied mutation.
	Version uint64
}

// BestOutcome returns the outcome with the highest price, or nil when the
// market has none.
func (m *Market) BestOutcome() *Outcome {
	var best *Outcome
	for i := range m.Outcomes {
		if best == nil || m.Outcomes[i].Price > best.Price {
			best = &m.Outcomes[i]
		}
	}
	return best
}

// MaxAbsChange returns the largest |24h price change| across outcomes.
func (m *Market) MaxAbsChange() float64 {
	var max float64
	for i := range m.Outcomes {
		c := m.Outcomes[i].Change24h
		if c < 0 {
			c = -c
		}
		if c > max {
			max = c
		}
	}
	return max
}
