package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKBAR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKBAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "TICKBAR_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Tickers, "TICKBAR_FEED_TICKERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TICKBAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "TICKBAR_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TICKBAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKBAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKBAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKBAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKBAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKBAR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKBAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKBAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKBAR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TICKBAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKBAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKBAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKBAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKBAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKBAR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TICKBAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKBAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKBAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKBAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKBAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKBAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKBAR_S3_FORCE_PATH_STYLE")

	// ── Aggregator ──
	setDuration(&cfg.Aggregator.Interval, "TICKBAR_AGGREGATOR_INTERVAL")
	setInt(&cfg.Aggregator.Workers, "TICKBAR_AGGREGATOR_WORKERS")
	setInt(&cfg.Aggregator.CommitRetries, "TICKBAR_AGGREGATOR_COMMIT_RETRIES")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TICKBAR_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TICKBAR_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TICKBAR_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKBAR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKBAR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKBAR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TICKBAR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TICKBAR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TICKBAR_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKBAR_MODE")
	setStr(&cfg.LogLevel, "TICKBAR_LOG_LEVEL")
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
