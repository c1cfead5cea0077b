package domain

import "context"

// Batch is one polled unit of events and markets plus explicit deletions.
// Removed carries ids the source reported as gone ("not found"); entities
// merely absent from a page are marked stale by the merger, not deleted.
type Batch struct {
	Events  []Event
	Markets []Market
	Removed []string
	// Full reports whether the batch is a complete listing for its query
	// (entities absent from it may be marked stale) or a single page.
	Full bool
}

// PollQuery parametrizes one polled fetch.
type PollQuery struct {
	OrderBy   string
	Ascending bool
	Limit     int
	Offset    int
	TagSlug   string
}

// Poller is the REST collaborator that returns batches of events/markets
// with pagination and a freshness indicator embedded in each entity.
type Poller interface {
	FetchEvents(ctx context.Context, q PollQuery) (Batch, error)
	FetchEventBySlug(ctx context.Context, slug string) (Batch, error)
	Search(ctx context.Context, query string, limit int) (Batch, error)
}

// StreamConn is a single live connection to one streaming source. It is
// created by a StreamDialer, carries no reconnect logic of its own, and
// reports its death by closing the Events channel. Lifecycle is owned by
// the stream multiplexer.
type StreamConn interface {
	// SetSubscriptions replaces the wire subscription set with keys.
	// Idempotent: resending the current set is harmless.
	SetSubscriptions(ctx context.Context, keys []string) error
	// Events yields decoded stream events in receipt order. The channel
	// is closed when the connection dies or Close is called.
	Events() <-chan StreamEvent
	Close() error
}

// StreamDialer opens connections to one streaming source.
type StreamDialer interface {
	Source() StreamSource
	Dial(ctx context.Context) (StreamConn, error)
}

// Session is the authentication collaborator. Implementations fail closed:
// every bookmark operation returns ErrUnauthenticated when no valid session
// exists.
type Session interface {
	Valid() bool
	Bookmarks(ctx context.Context) ([]string, error)
	SetBookmark(ctx context.Context, eventID string, on bool) error
}

// SnapshotCache persists TabSnapshot blobs keyed by tab name. Used only to
// pre-populate state at startup (stale-while-revalidate); load failures are
// never fatal.
type SnapshotCache interface {
	Save(ctx context.Context, snap TabSnapshot, events []Event, markets []Market) error
	Load(ctx context.Context, tab Tab) (TabSnapshot, []Event, []Market, error)
}
