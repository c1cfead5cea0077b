package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from JSON number or numeric string; Gamma sends
// volume and liquidity either way depending on endpoint.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APITag is a tag entry on a Gamma event.
type APITag struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      bool        `json:"closed"`
	Volume24hr  flexFloat   `json:"volume24hr"`
	Volume      flexFloat   `json:"volume"`
	Liquidity   flexFloat   `json:"liquidity"`
	EndDate     string      `json:"endDate"`
	Tags        []APITag    `json:"tags"`
	Markets     []APIMarket `json:"markets"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

// ToDomain converts an APIEvent to a domain.Event. The source version is
// the updatedAt timestamp in milliseconds; zero when the field is absent,
// in which case merges fall back to content comparison.
func (e *APIEvent) ToDomain() domain.Event {
	ev := domain.Event{
		ID:            e.ID,
		Slug:          e.Slug,
		Title:         e.Title,
		Volume24h:     float64(e.Volume24hr),
		VolumeTotal:   float64(e.Volume),
		Liquidity:     float64(e.Liquidity),
		SourceVersion: parseVersion(e.UpdatedAt),
	}
	switch {
	case e.Closed:
		ev.Status = domain.EventStatusClosed
	case bool(e.Active):
		ev.Status = domain.EventStatusActive
	default:
		ev.Status = domain.EventStatusInReview
	}
	if t, err := time.Parse(time.RFC3339, e.EndDate); err == nil {
		ev.EndTime = &t
	}
	if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		ev.CreatedAt = &t
	}
	for _, tag := range e.Tags {
		ev.Tags = append(ev.Tags, tag.Slug)
	}
	for i := range e.Markets {
		ev.MarketIDs = append(ev.MarketIDs, e.Markets[i].ID)
	}
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID                 string    `json:"id"`
	Question           string    `json:"question"`
	ConditionID        string    `json:"conditionId"`
	Slug               string    `json:"slug"`
	Active             flexBool  `json:"active"`
	Closed             bool      `json:"closed"`
	Outcomes           string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices      string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs       string    `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Volume24hr         flexFloat `json:"volume24hr"`
	OneDayPriceChange  flexFloat `json:"oneDayPriceChange"`
	EndDate            string    `json:"endDate"`
	UpdatedAt          string    `json:"updatedAt"`
}

// ToDomain converts a Gamma APIMarket to a domain.Market owned by eventID.
// Outcomes, prices, and token ids arrive as parallel JSON-encoded arrays and
// are zipped positionally; a market with undecodable outcome data yields an
// empty Outcomes slice, which the merger treats as "keep what is stored".
func (m *APIMarket) ToDomain(eventID string) domain.Market {
	dm := domain.Market{
		ID:            m.ID,
		EventID:       eventID,
		ConditionID:   m.ConditionID,
		Question:      m.Question,
		Volume24h:     float64(m.Volume24hr),
		Closed:        m.Closed,
		SourceVersion: parseVersion(m.UpdatedAt),
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		dm.EndTime = &t
	}

	var names, prices, tokens []string
	_ = json.Unmarshal([]byte(m.Outcomes), &names)
	_ = json.Unmarshal([]byte(m.OutcomePrices), &prices)
	_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokens)
	for i, name := range names {
		o := domain.Outcome{Name: name, Change24h: float64(m.OneDayPriceChange)}
		if i < len(prices) {
			o.Price, _ = strconv.ParseFloat(prices[i], 64)
		}
		if i < len(tokens) {
			o.TokenID = tokens[i]
		}
		dm.Outcomes = append(dm.Outcomes, o)
	}
	return dm
}

// parseVersion turns a Gamma updatedAt timestamp into a millisecond version.
func parseVersion(updatedAt string) uint64 {
	if updatedAt == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	return uint64(t.UnixMilli())
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the CLOB WebSocket to set the
// subscribed asset set.
type WSCommand struct {
	Type   string   `json:"type"` // "subscribe" or "unsubscribe"
	Assets []string `json:"assets_ids,omitempty"`
}

// PriceChangeMessage is an incremental price update on the market channel.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Outcome   string `json:"outcome"`
	Price     string `json:"price"`
	Change24h string `json:"one_day_price_change"`
	Timestamp string `json:"timestamp"`
}

// ToTick converts a price change message to a domain tick. The sequence is
// the source timestamp in milliseconds.
func (p *PriceChangeMessage) ToTick() *domain.PriceTick {
	t := &domain.PriceTick{
		MarketID: p.Market,
		Outcome:  p.Outcome,
	}
	if t.Outcome == "" {
		t.Outcome = p.AssetID
	}
	t.Price, _ = strconv.ParseFloat(p.Price, 64)
	t.Change24h, _ = strconv.ParseFloat(p.Change24h, 64)
	if ms, err := strconv.ParseUint(p.Timestamp, 10, 64); err == nil {
		t.Seq = ms
	}
	return t
}

// RTDSMessage is the envelope of the real-time data socket (trade activity).
type RTDSMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RTDSTrade is one trade on the activity topic.
type RTDSTrade struct {
	TransactionHash string  `json:"transactionHash"`
	ConditionID     string  `json:"conditionId"`
	EventSlug       string  `json:"eventSlug"`
	Outcome         string  `json:"outcome"`
	Side            string  `json:"side"`
	Price           float64 `json:"price"`
	Size            float64 `json:"size"`
	Timestamp       int64   `json:"timestamp"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
}

// ToDomain converts an RTDS trade to a domain.Trade.
func (t *RTDSTrade) ToDomain() domain.Trade {
	tr := domain.Trade{
		ID:        t.TransactionHash,
		MarketID:  t.ConditionID,
		EventSlug: t.EventSlug,
		Side:      strings.ToUpper(t.Side),
		Outcome:   t.Outcome,
		Price:     t.Price,
		Size:      t.Size,
		User:      t.Name,
	}
	if tr.User == "" {
		tr.User = t.Pseudonym
	}
	if t.Timestamp > 1e12 {
		tr.Timestamp = time.UnixMilli(t.Timestamp)
	} else if t.Timestamp > 0 {
		tr.Timestamp = time.Unix(t.Timestamp, 0)
	}
	return tr
}
