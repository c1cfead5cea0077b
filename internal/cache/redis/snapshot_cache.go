package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using JSON blobs with a TTL.
// It exists only to pre-populate tab lists at startup; stale data is served
// immediately and replaced by the first live poll, so load failures are
// swallowed into domain.ErrNotFound by the caller and never fatal.
//
// Key schema:
//
//	tabsnap:{tab}          - JSON TabSnapshot
//	tabsnap:{tab}:entities - JSON envelope of the events/markets it references
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache over a dialled client.
// ttl bounds how stale a restored tab may be; zero defaults to one hour.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func snapKey(tab domain.Tab) string     { return "tabsnap:" + string(tab) }
func entitiesKey(tab domain.Tab) string { return snapKey(tab) + ":entities" }

type entityEnvelope struct {
	Events  []domain.Event  `json:"events"`
	Markets []domain.Market `json:"markets"`
}

// Save stores one tab's snapshot and the entities needed to render it cold.
// Both keys are replaced atomically in one transaction.
func (sc *SnapshotCache) Save(ctx context.Context, snap domain.TabSnapshot, events []domain.Event, markets []domain.Market) error {
	snapData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Tab, err)
	}
	entData, err := json.Marshal(entityEnvelope{Events: events, Markets: markets})
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot entities %s: %w", snap.Tab, err)
	}

	pipe := sc.rdb.TxPipeline()
	pipe.Set(ctx, snapKey(snap.Tab), snapData, sc.ttl)
	pipe.Set(ctx, entitiesKey(snap.Tab), entData, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save snapshot %s: %w", snap.Tab, err)
	}
	return nil
}

// Load retrieves one tab's snapshot and entities. It returns
// domain.ErrNotFound when no snapshot is stored or either blob is
// undecodable, so a corrupt cache degrades to a cold start.
func (sc *SnapshotCache) Load(ctx context.Context, tab domain.Tab) (domain.TabSnapshot, []domain.Event, []domain.Market, error) {
	snapData, err := sc.rdb.Get(ctx, snapKey(tab)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TabSnapshot{}, nil, nil, domain.ErrNotFound
		}
		return domain.TabSnapshot{}, nil, nil, fmt.Errorf("redis: load snapshot %s: %w", tab, err)
	}

	var snap domain.TabSnapshot
	if err := json.Unmarshal(snapData, &snap); err != nil {
		return domain.TabSnapshot{}, nil, nil, domain.ErrNotFound
	}

	entData, err := sc.rdb.Get(ctx, entitiesKey(tab)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, nil, nil, nil
		}
		return domain.TabSnapshot{}, nil, nil, fmt.Errorf("redis: load snapshot entities %s: %w", tab, err)
	}

	var env entityEnvelope
	if err := json.Unmarshal(entData, &env); err != nil {
		return domain.TabSnapshot{}, nil, nil, domain.ErrNotFound
	}
	return snap, env.Events, env.Markets, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
