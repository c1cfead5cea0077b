package app

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/polyterm/internal/auth"
	"github.com/alanyoungcy/polyterm/internal/cache/redis"
	"github.com/alanyoungcy/polyterm/internal/config"
	"github.com/alanyoungcy/polyterm/internal/domain"
	"github.com/alanyoungcy/polyterm/internal/engine"
	"github.com/alanyoungcy/polyterm/internal/platform/polymarket"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Poller  domain.Poller
	Dialers []domain.StreamDialer
	Session domain.Session
	Cache   domain.SnapshotCache

	Engine *engine.Engine
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Poller: polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
		Dialers: []domain.StreamDialer{
			polymarket.NewMarketDialer(cfg.Polymarket.MarketWs),
			polymarket.NewTradeDialer(cfg.Polymarket.TradeWs),
		},
		Session: auth.NewCookieSession(cfg.Polymarket.SiteHost, cfg.Auth.SessionCookie),
	}

	// --- Redis (optional; only used for snapshot persistence) ---
	if cfg.Redis.Enabled {
		rdb, err := redis.Dial(ctx, redis.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLS:        cfg.Redis.TLSEnabled,
		})
		if err != nil {
			// Snapshot persistence is best-effort; a dead Redis downgrades
			// to cold starts instead of failing launch.
			logger.Warn("redis unavailable, snapshot persistence disabled",
				slog.String("error", err.Error()))
		} else {
			closers = append(closers, func() { _ = rdb.Close() })
			deps.Cache = redis.NewSnapshotCache(rdb, cfg.Engine.SnapshotTTL.Duration)
		}
	}

	deps.Engine = engine.New(
		engine.Config{
			Store: engine.StoreConfig{
				MaxEntities:  cfg.Engine.MaxEntities,
				TradeRingCap: cfg.Engine.TradeRingCap,
			},
			Mux: engine.MuxConfig{
				Backoff: engine.Backoff{
					Base:   cfg.Stream.BackoffBase.Duration,
					Max:    cfg.Stream.BackoffMax.Duration,
					Jitter: cfg.Stream.BackoffJitter,
				},
				GracePeriod:    cfg.Stream.GracePeriod.Duration,
				MalformedLimit: cfg.Stream.MalformedLimit,
				DialTimeout:    cfg.Stream.DialTimeout.Duration,
				FeedBuffer:     cfg.Stream.FeedBuffer,
			},
			Tabs: engine.TabConfig{
				BreakingThreshold: cfg.Tabs.BreakingThreshold,
				YieldMinProb:      cfg.Tabs.YieldMinProb,
				YieldHorizon:      cfg.Tabs.YieldHorizon.Duration,
				PageSize:          cfg.Engine.PageSize,
			},
			Publisher: engine.PublisherConfig{
				MaxRows:   cfg.UI.MaxRows,
				TradeRows: cfg.UI.TradeRows,
				LogRows:   cfg.UI.LogRows,
			},
			PollInterval:     cfg.Engine.PollInterval.Duration,
			SearchLimit:      cfg.Engine.SearchLimit,
			SnapshotInterval: cfg.Engine.SnapshotInterval.Duration,
			Workers:          cfg.Engine.Workers,
		},
		deps.Poller,
		deps.Dialers,
		deps.Session,
		deps.Cache,
		logger,
	)

	return deps, cleanup, nil
}
