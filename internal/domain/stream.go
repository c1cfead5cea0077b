package domain

// StreamSource identifies one of the two push-based streaming sources.
type StreamSource string

const (
	// SourceMarket is the CLOB market channel (price ticks).
	SourceMarket StreamSource = "market"
	// SourceTrades is the real-time trade activity channel.
	SourceTrades StreamSource = "trades"
)

// StreamEventKind discriminates StreamEvent payloads.
type StreamEventKind int

const (
	KindPriceTick StreamEventKind = iota
	KindTradeArrived
	KindConnectionLost
	KindConnectionRestored
	KindMalformed
)

func (k StreamEventKind) String() string {
	switch k {
	case KindPriceTick:
		return "price_tick"
	case KindTradeArrived:
		return "trade_arrived"
	case KindConnectionLost:
		return "connection_lost"
	case KindConnectionRestored:
		return "connection_restored"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// PriceTick is a single price update for one outcome of one market.
type PriceTick struct {
	MarketID  string
	Outcome   string
	Price     float64
	Change24h float64
	// Seq is the source-assigned sequence (timestamp in milliseconds).
	// Ticks with Seq at or below the last applied Seq for the market are
	// discarded.
	Seq uint64
}

// StreamEvent is one typed unit on the multiplexer's unified feed. Exactly
// one payload pointer is set according to Kind; connection events carry
// neither.
type StreamEvent struct {
	Source StreamSource
	Kind   StreamEventKind
	// Seq is assigned by the multiplexer in receipt order within a source.
	Seq   uint64
	Tick  *PriceTick
	Trade *Trade
	Err   error
}
