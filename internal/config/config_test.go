package config

import (
	"encoding/json"
	"log/slog"
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
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := Defaults()
		cfg.LogLevel = in
		assert.Equal(t, want, cfg.SlogLevel(), "log_level=%q", in)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown mode":        func(c *Config) { c.Mode = "turbo" },
		"unknown log level":   func(c *Config) { c.LogLevel = "loud" },
		"no tickers in full":  func(c *Config) { c.Feed.Tickers = nil },
		"empty postgres host": func(c *Config) { c.Postgres.Host = "" },
		"bad postgres port":   func(c *Config) { c.Postgres.Port = 70000 },
		"pool min over max":   func(c *Config) { c.Postgres.PoolMinConns = 20 },
		"empty redis addr":    func(c *Config) { c.Redis.Addr = "" },
		"tiny interval":       func(c *Config) { c.Aggregator.Interval = duration{time.Millisecond} },
		"zero workers":        func(c *Config) { c.Aggregator.Workers = 0 },
		"bad server port":     func(c *Config) { c.Server.Port = -1 },
		"archive needs bucket": func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		},
		"archive bad cron": func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Cron = "every day at three"
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateServeModeSkipsFeed(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Feed.Tickers = nil
	cfg.Feed.WsURL = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "aggregate"
log_level = "debug"

[aggregator]
interval = "30s"
workers = 8

[feed]
tickers = ["BTC-USD"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "aggregate", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Aggregator.Interval.Duration)
	assert.Equal(t, 8, cfg.Aggregator.Workers)
	assert.Equal(t, []string{"BTC-USD"}, cfg.Feed.Tickers)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKBAR_MODE", "serve")
	t.Setenv("TICKBAR_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("TICKBAR_SERVER_PORT", "8080")
	t.Setenv("TICKBAR_AGGREGATOR_INTERVAL", "2m")
	t.Setenv("TICKBAR_FEED_TICKERS", "BTC-USD, GC=F ,")
	t.Setenv("TICKBAR_ARCHIVE_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Aggregator.Interval.Duration)
	assert.Equal(t, []string{"BTC-USD", "GC=F"}, cfg.Feed.Tickers)
	assert.True(t, cfg.Archive.Enabled)
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("TICKBAR_SERVER_PORT", "not-a-number")
	t.Setenv("TICKBAR_ARCHIVE_ENABLED", "supposedly")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.False(t, cfg.Archive.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Redis.Password = "secret"
	cfg.S3.AccessKey = "AKIA..."
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// The original is untouched, and empty secrets stay empty.
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Empty(t, Defaults().Postgres.Password)

	// The redacted copy is what gets logged at startup; no secret may
	// survive serialization.
	raw, err := json.Marshal(red)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.NotContains(t, string(raw), "AKIA")
}
