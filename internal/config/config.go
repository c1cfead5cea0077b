// Package config defines the top-level configuration for the polyterm
// dashboard and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYTERM_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Auth       AuthConfig       `toml:"auth"`
	Redis      RedisConfig      `toml:"redis"`
	Engine     EngineConfig     `toml:"engine"`
	Tabs       TabsConfig       `toml:"tabs"`
	Stream     StreamConfig     `toml:"stream"`
	UI         UIConfig         `toml:"ui"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	SiteHost  string `toml:"site_host"`
	MarketWs  string `toml:"market_ws"`
	TradeWs   string `toml:"trade_ws"`
}

// AuthConfig holds the optional session credential used for bookmarks.
// Everything else works unauthenticated.
type AuthConfig struct {
	SessionCookie string `toml:"session_cookie"`
}

// RedisConfig holds Redis connection parameters for snapshot persistence.
// Disabled means cold starts only; nothing else depends on Redis.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// EngineConfig holds state engine tuning.
type EngineConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	PageSize         int      `toml:"page_size"`
	MaxEntities      int      `toml:"max_entities"`
	TradeRingCap     int      `toml:"trade_ring_cap"`
	SearchLimit      int      `toml:"search_limit"`
	Workers          int      `toml:"workers"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	SnapshotTTL      duration `toml:"snapshot_ttl"`
}

// TabsConfig holds the derived-tab thresholds.
type TabsConfig struct {
	// BreakingThreshold is the minimum |24h price change| for the Breaking
	// tab, as a fraction (0.05 = 5%).
	BreakingThreshold float64 `toml:"breaking_threshold"`
	// YieldMinProb is the probability floor for the Yield tab.
	YieldMinProb float64 `toml:"yield_min_prob"`
	// YieldHorizon is the maximum time-to-expiry for the Yield tab.
	YieldHorizon duration `toml:"yield_horizon"`
}

// StreamConfig holds WebSocket lifecycle tuning.
type StreamConfig struct {
	BackoffBase    duration `toml:"backoff_base"`
	BackoffMax     duration `toml:"backoff_max"`
	BackoffJitter  float64  `toml:"backoff_jitter"`
	GracePeriod    duration `toml:"grace_period"`
	MalformedLimit int      `toml:"malformed_limit"`
	DialTimeout    duration `toml:"dial_timeout"`
	FeedBuffer     int      `toml:"feed_buffer"`
}

// UIConfig holds terminal rendering parameters.
type UIConfig struct {
	TickInterval duration `toml:"tick_interval"`
	MaxRows      int      `toml:"max_rows"`
	TradeRows    int      `toml:"trade_rows"`
	LogRows      int      `toml:"log_rows"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			SiteHost:  "https://polymarket.com",
			MarketWs:  "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			TradeWs:   "wss://ws-live-data.polymarket.com",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Engine: EngineConfig{
			PollInterval:     duration{30 * time.Second},
			PageSize:         20,
			MaxEntities:      2000,
			TradeRingCap:     100,
			SearchLimit:      25,
			Workers:          4,
			SnapshotInterval: duration{time.Minute},
			SnapshotTTL:      duration{time.Hour},
		},
		Tabs: TabsConfig{
			BreakingThreshold: 0.05,
			YieldMinProb:      0.95,
			YieldHorizon:      duration{30 * 24 * time.Hour},
		},
		Stream: StreamConfig{
			BackoffBase:    duration{time.Second},
			BackoffMax:     duration{time.Minute},
			BackoffJitter:  0.2,
			GracePeriod:    duration{5 * time.Second},
			MalformedLimit: 10,
			DialTimeout:    duration{15 * time.Second},
			FeedBuffer:     256,
		},
		UI: UIConfig{
			TickInterval: duration{250 * time.Millisecond},
			MaxRows:      200,
			TradeRows:    30,
			LogRows:      50,
		},
		Mode:     "dash",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"dash":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: dash, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.MarketWs == "" {
		errs = append(errs, "polymarket: market_ws must not be empty")
	}
	if c.Polymarket.TradeWs == "" {
		errs = append(errs, "polymarket: trade_ws must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Engine
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.PageSize < 1 {
		errs = append(errs, "engine: page_size must be >= 1")
	}
	if c.Engine.MaxEntities < 0 {
		errs = append(errs, "engine: max_entities must be >= 0 (0 = unbounded)")
	}
	if c.Engine.TradeRingCap < 1 {
		errs = append(errs, "engine: trade_ring_cap must be >= 1")
	}

	// Tabs
	if c.Tabs.BreakingThreshold <= 0 || c.Tabs.BreakingThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("tabs: breaking_threshold must be in (0, 1), got %g", c.Tabs.BreakingThreshold))
	}
	if c.Tabs.YieldMinProb <= 0 || c.Tabs.YieldMinProb >= 1 {
		errs = append(errs, fmt.Sprintf("tabs: yield_min_prob must be in (0, 1), got %g", c.Tabs.YieldMinProb))
	}
	if c.Tabs.YieldHorizon.Duration <= 0 {
		errs = append(errs, "tabs: yield_horizon must be > 0")
	}

	// Stream
	if c.Stream.BackoffBase.Duration <= 0 {
		errs = append(errs, "stream: backoff_base must be > 0")
	}
	if c.Stream.BackoffMax.Duration < c.Stream.BackoffBase.Duration {
		errs = append(errs, "stream: backoff_max must be >= backoff_base")
	}
	if c.Stream.BackoffJitter < 0 || c.Stream.BackoffJitter > 1 {
		errs = append(errs, fmt.Sprintf("stream: backoff_jitter must be in [0, 1], got %g", c.Stream.BackoffJitter))
	}
	if c.Stream.MalformedLimit < 1 {
		errs = append(errs, "stream: malformed_limit must be >= 1")
	}

	// UI
	if c.UI.TickInterval.Duration <= 0 {
		errs = append(errs, "ui: tick_interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
