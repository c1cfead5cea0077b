package domain

import "time"

// EventStatus represents the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive   EventStatus = "active"
	EventStatusClosed   EventStatus = "closed"
	EventStatusInReview EventStatus = "in_review"
)

// Event represents a Polymarket event: a group of one or more markets under a
// common question (e.g. "Who wins X").
type Event struct {
	ID          string
	Slug        string
	Title       string
	Status      EventStatus
	CreatedAt   *time.Time
	EndTime     *time.Time
	Tags        []string
	Volume24h   float64
	VolumeTotal float64
	Liquidity   float64
	MarketIDs   []string

	// SourceVersion is the upstream freshness indicator (updatedAt in
	// milliseconds). Zero when the source did not provide one; merges then
	// fall back to a content hash.
	SourceVersion uint64

	// Version is the store-assigned revision at which this entity was last
	// mutated. Strictly increases on every applied update.
	Version uint64
}
