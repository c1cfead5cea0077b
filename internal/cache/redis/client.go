// Package redis persists tab snapshots between runs. It is the dashboard's
// only durable dependency and is strictly optional: a miss or a dead server
// degrades to a cold start, never a failure.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options holds the connection settings the dashboard exposes.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLS        bool
}

// Dial connects and pings, so a misconfigured server surfaces at startup
// where the caller can downgrade to cold starts, not on the first save.
func Dial(ctx context.Context, o Options) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       o.Addr,
		Password:   o.Password,
		DB:         o.DB,
		PoolSize:   o.PoolSize,
		MaxRetries: o.MaxRetries,
	}
	if o.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", o.Addr, err)
	}
	return rdb, nil
}
