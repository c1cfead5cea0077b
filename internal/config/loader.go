package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYTERM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYTERM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at launch time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYTERM_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.SiteHost, "POLYTERM_POLYMARKET_SITE_HOST")
	setStr(&cfg.Polymarket.MarketWs, "POLYTERM_POLYMARKET_MARKET_WS")
	setStr(&cfg.Polymarket.TradeWs, "POLYTERM_POLYMARKET_TRADE_WS")

	// ── Auth ──
	setStr(&cfg.Auth.SessionCookie, "POLYTERM_AUTH_SESSION_COOKIE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYTERM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYTERM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYTERM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYTERM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYTERM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYTERM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYTERM_REDIS_TLS_ENABLED")

	// ── Engine ──
	setDuration(&cfg.Engine.PollInterval, "POLYTERM_ENGINE_POLL_INTERVAL")
	setInt(&cfg.Engine.PageSize, "POLYTERM_ENGINE_PAGE_SIZE")
	setInt(&cfg.Engine.MaxEntities, "POLYTERM_ENGINE_MAX_ENTITIES")
	setInt(&cfg.Engine.TradeRingCap, "POLYTERM_ENGINE_TRADE_RING_CAP")
	setInt(&cfg.Engine.SearchLimit, "POLYTERM_ENGINE_SEARCH_LIMIT")
	setInt(&cfg.Engine.Workers, "POLYTERM_ENGINE_WORKERS")
	setDuration(&cfg.Engine.SnapshotInterval, "POLYTERM_ENGINE_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Engine.SnapshotTTL, "POLYTERM_ENGINE_SNAPSHOT_TTL")

	// ── Tabs ──
	setFloat64(&cfg.Tabs.BreakingThreshold, "POLYTERM_TABS_BREAKING_THRESHOLD")
	setFloat64(&cfg.Tabs.YieldMinProb, "POLYTERM_TABS_YIELD_MIN_PROB")
	setDuration(&cfg.Tabs.YieldHorizon, "POLYTERM_TABS_YIELD_HORIZON")

	// ── Stream ──
	setDuration(&cfg.Stream.BackoffBase, "POLYTERM_STREAM_BACKOFF_BASE")
	setDuration(&cfg.Stream.BackoffMax, "POLYTERM_STREAM_BACKOFF_MAX")
	setFloat64(&cfg.Stream.BackoffJitter, "POLYTERM_STREAM_BACKOFF_JITTER")
	setDuration(&cfg.Stream.GracePeriod, "POLYTERM_STREAM_GRACE_PERIOD")
	setInt(&cfg.Stream.MalformedLimit, "POLYTERM_STREAM_MALFORMED_LIMIT")
	setDuration(&cfg.Stream.DialTimeout, "POLYTERM_STREAM_DIAL_TIMEOUT")
	setInt(&cfg.Stream.FeedBuffer, "POLYTERM_STREAM_FEED_BUFFER")

	// ── UI ──
	setDuration(&cfg.UI.TickInterval, "POLYTERM_UI_TICK_INTERVAL")
	setInt(&cfg.UI.MaxRows, "POLYTERM_UI_MAX_ROWS")
	setInt(&cfg.UI.TradeRows, "POLYTERM_UI_TRADE_ROWS")
	setInt(&cfg.UI.LogRows, "POLYTERM_UI_LOG_ROWS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYTERM_MODE")
	setStr(&cfg.LogLevel, "POLYTERM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
