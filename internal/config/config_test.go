package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "dash", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, 0.05, cfg.Tabs.BreakingThreshold)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"
log_level = "debug"

[engine]
poll_interval = "10s"
page_size = 50

[tabs]
breaking_threshold = 0.1

[stream]
backoff_base = "500ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, 50, cfg.Engine.PageSize)
	assert.Equal(t, 0.1, cfg.Tabs.BreakingThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.BackoffBase.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.Polymarket.GammaHost)
	assert.Equal(t, 0.95, cfg.Tabs.YieldMinProb)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Engine.PageSize, cfg.Engine.PageSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYTERM_MODE", "monitor")
	t.Setenv("POLYTERM_AUTH_SESSION_COOKIE", "secret-cookie")
	t.Setenv("POLYTERM_ENGINE_POLL_INTERVAL", "45s")
	t.Setenv("POLYTERM_ENGINE_PAGE_SIZE", "5")
	t.Setenv("POLYTERM_TABS_BREAKING_THRESHOLD", "0.08")
	t.Setenv("POLYTERM_REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "secret-cookie", cfg.Auth.SessionCookie)
	assert.Equal(t, 45*time.Second, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, 5, cfg.Engine.PageSize)
	assert.Equal(t, 0.08, cfg.Tabs.BreakingThreshold)
	assert.True(t, cfg.Redis.Enabled)
}

func TestEnvOverridesIgnoreUnparseable(t *testing.T) {
	t.Setenv("POLYTERM_ENGINE_PAGE_SIZE", "not-a-number")
	t.Setenv("POLYTERM_ENGINE_POLL_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Engine.PageSize, cfg.Engine.PageSize)
	assert.Equal(t, Defaults().Engine.PollInterval.Duration, cfg.Engine.PollInterval.Duration)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Polymarket.GammaHost = ""
	cfg.Engine.PageSize = 0
	cfg.Tabs.BreakingThreshold = 2
	cfg.Stream.BackoffMax = duration{time.Millisecond}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "gamma_host")
	assert.Contains(t, msg, "page_size")
	assert.Contains(t, msg, "breaking_threshold")
	assert.Contains(t, msg, "backoff_max")
}

func TestValidateRedisOnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	require.NoError(t, cfg.Validate(), "redis settings are ignored while disabled")

	cfg.Redis.Enabled = true
	assert.Error(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.SessionCookie = "super-secret"
	cfg.Redis.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Auth.SessionCookie)
	assert.Equal(t, "***", red.Redis.Password)

	// The original is untouched.
	assert.Equal(t, "super-secret", cfg.Auth.SessionCookie)
}
